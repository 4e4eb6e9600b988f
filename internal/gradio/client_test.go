package gradio

import (
	"GradioClient/internal/stubserver"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// sse_v3 — /call; sse_v1 и sse_v2.1 — POST /queue/join + GET /queue/data; sse — GET /queue/join + POST /queue/data.
var protocols = []string{"sse_v3", "sse_v2.1", "sse_v1", "sse", "ws", "http"}

func newStub(t *testing.T, protocol string) (*stubserver.Server, *httptest.Server) {
	t.Helper()
	stub := stubserver.New(stubserver.WithProtocol(protocol), stubserver.WithUploadDir(t.TempDir()))
	ts := httptest.NewServer(stub)
	t.Cleanup(ts.Close)
	return stub, ts
}

func newClient(t *testing.T, src string, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{WithDownloadDir(t.TempDir())}, opts...)
	c, err := New(context.Background(), src, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestPredict_PigWithWings(t *testing.T) {
	for _, protocol := range protocols {
		t.Run(protocol, func(t *testing.T) {
			stub, ts := newStub(t, protocol)
			stub.Register("/predict", stubserver.Const("ok"))

			c := newClient(t, ts.URL+"/")
			got, err := c.Predict(context.Background(), "/predict", "A pig with wings", nil)
			if err != nil {
				t.Fatalf("Predict: %v", err)
			}
			if got != "ok" {
				t.Fatalf("got %v; want ok", got)
			}

			calls := stub.Calls()
			if len(calls) != 1 {
				t.Fatalf("calls=%d; want 1", len(calls))
			}
			if calls[0].API != "/predict" {
				t.Fatalf("API=%q; want /predict", calls[0].API)
			}
			want := []any{"A pig with wings", nil}
			if !reflect.DeepEqual(calls[0].Args, want) {
				t.Fatalf("args=%#v; want %#v", calls[0].Args, want)
			}
		})
	}
}

func TestPredict_TransportFollowsConfig(t *testing.T) {
	cases := []struct {
		protocol string
		want     string
	}{
		{"sse_v3", "sse"},
		{"sse_v2", "sse"},
		{"sse_v1", "sse"},
		{"sse", "sse"},
		{"ws", "ws"},
		{"http", "http"},
	}
	for _, tc := range cases {
		t.Run(tc.protocol, func(t *testing.T) {
			stub, ts := newStub(t, tc.protocol)
			stub.Register("/predict", stubserver.Const("ok"))

			c := newClient(t, ts.URL)
			if _, err := c.Predict(context.Background(), "predict", "x", nil); err != nil {
				t.Fatalf("Predict: %v", err)
			}
			if got := stub.Calls()[0].Transport; got != tc.want {
				t.Fatalf("transport=%q; want %q", got, tc.want)
			}
		})
	}
}

func TestPredict_UnqueuedEndpointSkipsQueue(t *testing.T) {
	stub, ts := newStub(t, "ws")
	stub.RegisterUnqueued("/predict", stubserver.Const("ok"))

	c := newClient(t, ts.URL)
	if _, err := c.Predict(context.Background(), "/predict", "x", nil); err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if got := stub.Calls()[0].Transport; got != "http" {
		t.Fatalf("transport=%q; want http", got)
	}
}

func TestPredict_ForcedProtocol(t *testing.T) {
	stub, ts := newStub(t, "sse_v3")
	stub.Register("/predict", stubserver.Const("ok"))

	c := newClient(t, ts.URL, WithProtocol("http"))
	if _, err := c.Predict(context.Background(), "/predict", "x", nil); err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if got := stub.Calls()[0].Transport; got != "http" {
		t.Fatalf("transport=%q; want http", got)
	}
}

func TestNew_RejectsUnknownProtocol(t *testing.T) {
	_, ts := newStub(t, "sse_v3")
	if _, err := New(context.Background(), ts.URL, WithProtocol("grpc")); err == nil {
		t.Fatalf("expected error for unknown protocol")
	}
}

func TestNew_UnreachableServer(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	src := ts.URL
	ts.Close()

	if _, err := New(context.Background(), src); err == nil {
		t.Fatalf("expected connection error")
	}
}

func TestPredict_UnknownEndpoint(t *testing.T) {
	stub, ts := newStub(t, "sse_v3")
	stub.Register("/predict", stubserver.Const("ok"))

	c := newClient(t, ts.URL)
	_, err := c.Predict(context.Background(), "/generate", "x", nil)
	if !errors.Is(err, ErrEndpointNotFound) {
		t.Fatalf("err=%v; want ErrEndpointNotFound", err)
	}
	if len(stub.Calls()) != 0 {
		t.Fatalf("unexpected calls: %v", stub.Calls())
	}
}

func TestPredict_AppError(t *testing.T) {
	for _, protocol := range protocols {
		t.Run(protocol, func(t *testing.T) {
			stub, ts := newStub(t, protocol)
			stub.Register("/predict", func([]any) ([]any, error) {
				return nil, errors.New("CUDA out of memory")
			})

			c := newClient(t, ts.URL)
			_, err := c.Predict(context.Background(), "/predict", "x", nil)
			var appErr *AppError
			if !errors.As(err, &appErr) {
				t.Fatalf("err=%v; want *AppError", err)
			}
			if appErr.Message != "CUDA out of memory" {
				t.Fatalf("message=%q", appErr.Message)
			}
		})
	}
}

func TestPredict_MultipleOutputs(t *testing.T) {
	stub, ts := newStub(t, "sse_v3")
	stub.Register("/predict", func([]any) ([]any, error) {
		return []any{"caption", 42}, nil
	})

	c := newClient(t, ts.URL)
	got, err := c.Predict(context.Background(), "/predict", "x", nil)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	want := []any{"caption", float64(42)}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %#v; want %#v", got, want)
	}
}

func TestPredict_NoOutputs(t *testing.T) {
	stub, ts := newStub(t, "sse_v3")
	stub.Register("/predict", func([]any) ([]any, error) { return nil, nil })

	c := newClient(t, ts.URL)
	got, err := c.Predict(context.Background(), "/predict")
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if got != nil {
		t.Fatalf("got %#v; want nil", got)
	}
}

func TestPredict_UploadsLocalFile(t *testing.T) {
	for _, protocol := range protocols {
		t.Run(protocol, func(t *testing.T) {
			stub, ts := newStub(t, protocol)
			// возвращает полученный файл обратно: проверяем и загрузку, и скачивание
			stub.Register("/predict", func(args []any) ([]any, error) {
				return []any{args[1]}, nil
			})

			in := filepath.Join(t.TempDir(), "pig.png")
			if err := os.WriteFile(in, []byte("fake png"), 0o644); err != nil {
				t.Fatal(err)
			}

			c := newClient(t, ts.URL)
			got, err := c.Predict(context.Background(), "/predict", "A pig with wings", HandleFile(in))
			if err != nil {
				t.Fatalf("Predict: %v", err)
			}

			local, ok := got.(string)
			if !ok {
				t.Fatalf("got %#v; want local path", got)
			}
			if filepath.Base(local) != "pig.png" {
				t.Fatalf("local=%q; want pig.png", local)
			}
			b, err := os.ReadFile(local)
			if err != nil {
				t.Fatalf("read downloaded: %v", err)
			}
			if string(b) != "fake png" {
				t.Fatalf("content=%q", b)
			}

			arg, ok := stub.Calls()[0].Args[1].(map[string]any)
			if !ok {
				t.Fatalf("file arg=%#v; want object", stub.Calls()[0].Args[1])
			}
			if strings.HasPrefix(protocol, "sse") {
				meta, _ := arg["meta"].(map[string]any)
				if meta["_type"] != "gradio.FileData" {
					t.Fatalf("meta=%#v", arg["meta"])
				}
			} else if arg["is_file"] != true {
				t.Fatalf("legacy file arg=%#v", arg)
			}
		})
	}
}

func TestPredict_URLArgumentIsNotUploaded(t *testing.T) {
	stub, ts := newStub(t, "sse_v3")
	stub.Register("/predict", stubserver.Const("seen"))

	c := newClient(t, ts.URL)
	const img = "https://example.com/images/pig.png"
	if _, err := c.Predict(context.Background(), "/predict", "x", HandleFile(img)); err != nil {
		t.Fatalf("Predict: %v", err)
	}
	arg, _ := stub.Calls()[0].Args[1].(map[string]any)
	if arg["path"] != img || arg["url"] != img {
		t.Fatalf("file arg=%#v", arg)
	}
	if arg["orig_name"] != "pig.png" {
		t.Fatalf("orig_name=%v", arg["orig_name"])
	}
}

func TestPredict_DownloadsFileOutput(t *testing.T) {
	for _, protocol := range protocols {
		t.Run(protocol, func(t *testing.T) {
			stub, ts := newStub(t, protocol)
			stub.Register("/predict", func([]any) ([]any, error) {
				fd, err := stub.PutFile("image.webp", []byte("RIFF"))
				return []any{fd}, err
			})

			dir := t.TempDir()
			c := newClient(t, ts.URL, WithDownloadDir(dir))
			got, err := c.Predict(context.Background(), "/predict", "A pig with wings", nil)
			if err != nil {
				t.Fatalf("Predict: %v", err)
			}
			local, _ := got.(string)
			if !strings.HasPrefix(local, dir) {
				t.Fatalf("local=%q; want under %q", local, dir)
			}
			b, err := os.ReadFile(local)
			if err != nil || string(b) != "RIFF" {
				t.Fatalf("read=%q err=%v", b, err)
			}
		})
	}
}

func TestPredict_DownloadsFileWithSpecialCharsInPath(t *testing.T) {
	for _, protocol := range []string{"sse_v3", "ws"} {
		t.Run(protocol, func(t *testing.T) {
			stub, ts := newStub(t, protocol)
			stub.Register("/predict", func([]any) ([]any, error) {
				fd, err := stub.PutFile("100% pig #1?.png", []byte("PNG"))
				return []any{fd}, err
			})

			c := newClient(t, ts.URL)
			got, err := c.Predict(context.Background(), "/predict", "A pig with wings", nil)
			if err != nil {
				t.Fatalf("Predict: %v", err)
			}
			local, _ := got.(string)
			if filepath.Base(local) != "100% pig #1?.png" {
				t.Fatalf("local=%q", local)
			}
			b, err := os.ReadFile(local)
			if err != nil || string(b) != "PNG" {
				t.Fatalf("read=%q err=%v", b, err)
			}
		})
	}
}

func TestPredict_SendsHFToken(t *testing.T) {
	stub := stubserver.New(stubserver.WithUploadDir(t.TempDir()))
	stub.Register("/predict", stubserver.Const("ok"))

	var missing []string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer hf_secret" {
			missing = append(missing, r.URL.Path)
		}
		stub.ServeHTTP(w, r)
	}))
	defer ts.Close()

	c := newClient(t, ts.URL, WithHFToken("hf_secret"))
	if _, err := c.Predict(context.Background(), "/predict", "x", nil); err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if len(missing) > 0 {
		t.Fatalf("requests without token: %v", missing)
	}
}

func TestPredict_CanceledContext(t *testing.T) {
	stub, ts := newStub(t, "sse_v3")
	stub.Register("/predict", stubserver.Const("ok"))

	c := newClient(t, ts.URL)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Predict(ctx, "/predict", "x", nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v; want context.Canceled", err)
	}
}

type countingTransport struct {
	n atomic.Int32
}

func (c *countingTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	c.n.Add(1)
	return http.DefaultTransport.RoundTrip(r)
}

func TestWithTimeout_KeepsHTTPClientTransport(t *testing.T) {
	for _, order := range []string{"client-then-timeout", "timeout-then-client"} {
		t.Run(order, func(t *testing.T) {
			stub, ts := newStub(t, "sse_v3")
			stub.Register("/predict", stubserver.Const("ok"))

			rt := &countingTransport{}
			opts := []Option{WithHTTPClient(&http.Client{Transport: rt}), WithTimeout(90 * time.Second)}
			if order == "timeout-then-client" {
				opts = []Option{WithTimeout(90 * time.Second), WithHTTPClient(&http.Client{Transport: rt})}
			}
			c := newClient(t, ts.URL, opts...)

			if c.http.Transport != rt {
				t.Fatalf("transport replaced: %T", c.http.Transport)
			}
			if order == "client-then-timeout" && c.http.Timeout != 90*time.Second {
				t.Fatalf("timeout=%v; want 90s", c.http.Timeout)
			}
			if _, err := c.Predict(context.Background(), "/predict", "x", nil); err != nil {
				t.Fatalf("Predict: %v", err)
			}
			// /config, POST /call, GET поток
			if n := rt.n.Load(); n < 3 {
				t.Fatalf("round trips via custom transport=%d; want >= 3", n)
			}
		})
	}
}

func TestEndpoints(t *testing.T) {
	stub, ts := newStub(t, "sse_v3")
	stub.Register("/predict", stubserver.Const("ok"))
	stub.Register("/upscale", stubserver.Const("ok"))

	c := newClient(t, ts.URL)
	want := []Endpoint{{Name: "/predict", FnIndex: 0}, {Name: "/upscale", FnIndex: 1}}
	if got := c.Endpoints(); !reflect.DeepEqual(got, want) {
		t.Fatalf("endpoints=%#v; want %#v", got, want)
	}
}

func TestNormalizeSrc(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"http://127.0.0.1:7860/", "http://127.0.0.1:7860"},
		{"127.0.0.1:7860", "http://127.0.0.1:7860"},
		{"https://example.hf.space//", "https://example.hf.space"},
	}
	for _, tc := range tests {
		got, err := normalizeSrc(tc.in)
		if err != nil {
			t.Fatalf("normalizeSrc(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("normalizeSrc(%q)=%q; want %q", tc.in, got, tc.want)
		}
	}
	if _, err := normalizeSrc("  "); err == nil {
		t.Fatalf("expected error for empty src")
	}
}
