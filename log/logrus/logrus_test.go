package logrus

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/unkn0wn-root/databank"
)

func TestFieldsReachJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	l := logrus.New()
	l.SetOutput(&buf)
	l.SetFormatter(&logrus.JSONFormatter{})
	l.SetLevel(logrus.DebugLevel)

	New(l, "").Warn("job failed", databank.Fields{"key": "a.b", "job": "load"})

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if rec["msg"] != "job failed" || rec["key"] != "a.b" || rec["job"] != "load" ||
		rec["component"] != "databank" || rec["level"] != "warning" {
		t.Fatalf("unexpected record %v", rec)
	}
}
