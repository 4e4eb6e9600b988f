package ai

import (
	"GradioClient/internal/gradio"
	"GradioClient/internal/stubserver"
	"context"
	"errors"
	"net/http/httptest"
	"reflect"
	"testing"
)

type recordingPredictor struct {
	apiName string
	args    []any
	result  any
	err     error
}

func (p *recordingPredictor) Predict(_ context.Context, apiName string, args ...any) (any, error) {
	p.apiName = apiName
	p.args = args
	return p.result, p.err
}

func TestGradioClient_SendsPromptAndNullImage(t *testing.T) {
	p := &recordingPredictor{result: "ok"}
	c := NewGradioClient(p, "/predict")

	got, err := c.SendRequest(context.Background(), "A pig with wings", "")
	if err != nil {
		t.Fatalf("SendRequest: %v", err)
	}
	if got != "ok" {
		t.Fatalf("got %q; want ok", got)
	}
	if p.apiName != "/predict" {
		t.Fatalf("apiName=%q", p.apiName)
	}
	if !reflect.DeepEqual(p.args, []any{"A pig with wings", nil}) {
		t.Fatalf("args=%#v", p.args)
	}
}

func TestGradioClient_ImageBecomesFileRef(t *testing.T) {
	p := &recordingPredictor{result: "ok"}
	c := NewGradioClient(p, "/predict")

	if _, err := c.SendRequest(context.Background(), "x", "images/1.png"); err != nil {
		t.Fatalf("SendRequest: %v", err)
	}
	if ref, ok := p.args[1].(gradio.FileRef); !ok || ref.Path != "images/1.png" {
		t.Fatalf("image arg=%#v", p.args[1])
	}
}

func TestGradioClient_PropagatesError(t *testing.T) {
	boom := errors.New("connection refused")
	c := NewGradioClient(&recordingPredictor{err: boom}, "/predict")
	if _, err := c.SendRequest(context.Background(), "x", ""); !errors.Is(err, boom) {
		t.Fatalf("err=%v; want %v", err, boom)
	}
}

func TestFormatResult(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"string verbatim", "/tmp/gradio/abc/image.webp", "/tmp/gradio/abc/image.webp"},
		{"nil", nil, "null"},
		{"number", float64(3), "3"},
		{"tuple", []any{"a", float64(1)}, `["a",1]`},
		{"object", map[string]any{"label": "pig"}, `{"label":"pig"}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := FormatResult(tc.in)
			if err != nil {
				t.Fatalf("FormatResult: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %q; want %q", got, tc.want)
			}
		})
	}
}

// Сквозной сценарий: заглушка /predict отвечает "ok" на ("A pig with wings", None).
func TestGradioClient_AgainstStubApp(t *testing.T) {
	stub := stubserver.New(stubserver.WithUploadDir(t.TempDir()))
	stub.Register("/predict", stubserver.Const("ok"))
	ts := httptest.NewServer(stub)
	defer ts.Close()

	gc, err := gradio.New(context.Background(), ts.URL+"/", gradio.WithDownloadDir(t.TempDir()))
	if err != nil {
		t.Fatalf("gradio.New: %v", err)
	}

	var client Client = NewGradioClient(gc, "/predict")
	got, err := client.SendRequest(context.Background(), "A pig with wings", "")
	if err != nil {
		t.Fatalf("SendRequest: %v", err)
	}
	if got != "ok" {
		t.Fatalf("got %q; want ok", got)
	}

	calls := stub.Calls()
	if len(calls) != 1 || calls[0].API != "/predict" || !reflect.DeepEqual(calls[0].Args, []any{"A pig with wings", nil}) {
		t.Fatalf("calls=%#v", calls)
	}
}
