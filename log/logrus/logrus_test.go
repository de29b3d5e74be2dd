package logrus

import (
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/unkn0wn-root/querycache"
)

func TestLogrusLoggerFields(t *testing.T) {
	base, hook := test.NewNullLogger()
	base.SetLevel(logrus.DebugLevel)
	l := New(base)

	l.Error("listener panicked", querycache.Fields{"key": "k", "err": errors.New("boom")})

	e := hook.LastEntry()
	if e == nil {
		t.Fatal("no entry")
	}
	if e.Level != logrus.ErrorLevel || e.Message != "listener panicked" {
		t.Fatalf("unexpected entry: %v %q", e.Level, e.Message)
	}
	if e.Data["component"] != "querycache" || e.Data["key"] != "k" {
		t.Fatalf("unexpected data: %v", e.Data)
	}
	if err, _ := e.Data[logrus.ErrorKey].(error); err == nil || err.Error() != "boom" {
		t.Fatalf("error not attached: %v", e.Data)
	}
}
