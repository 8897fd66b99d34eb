package telemetry

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestInitTracer(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := InitTracer("copilot-plugins-test", &buf, nil)
	if err != nil {
		t.Fatalf("InitTracer() error = %v", err)
	}

	_, span := Tracer().Start(context.Background(), "test.span")
	span.End()

	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error = %v", err)
	}
	if !strings.Contains(buf.String(), "test.span") {
		t.Errorf("exported spans missing test.span: %s", buf.String())
	}
}
