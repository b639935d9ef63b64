package main

import (
	"flag"
	"os"

	"github.com/m-lab/go/cloud/bqx"
	"github.com/m-lab/go/rtx"
	"github.com/m-lab/sstrace/data"

	"cloud.google.com/go/bigquery"
)

var sampleSchema string

func init() {
	flag.StringVar(&sampleSchema, "sstrace", "/var/spool/datatypes/sstrace.json", "filename to write the sstrace schema")
}

func main() {
	flag.Parse()
	// Generate and save the sample row schema for autoloading.
	row := data.SampleRow{}
	sch, err := bigquery.InferSchema(row)
	rtx.Must(err, "failed to generate sstrace schema")
	sch = bqx.RemoveRequired(sch)
	b, err := sch.ToJSONFields()
	rtx.Must(err, "failed to marshal schema")
	rtx.Must(os.WriteFile(sampleSchema, b, 0o644), "failed to write schema")
}
