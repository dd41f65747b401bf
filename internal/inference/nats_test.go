package inference

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/gftdcojp/artgate/internal/config"
	"github.com/gftdcojp/artgate/internal/types"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"
)

func startEmbeddedNATS(t *testing.T) (*server.Server, string) {
	t.Helper()
	tmpDir := t.TempDir()

	opts := &server.Options{
		Host:      "127.0.0.1",
		Port:      -1,
		JetStream: true,
		StoreDir:  filepath.Join(tmpDir, "jetstream"),
		NoLog:     true,
		NoSigs:    true,
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		t.Fatalf("failed to create nats-server: %v", err)
	}

	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		t.Fatal("nats-server failed to start")
	}

	t.Cleanup(func() { ns.Shutdown() })
	return ns, ns.ClientURL()
}

func connect(t *testing.T, url string) (*nats.Conn, jetstream.JetStream) {
	t.Helper()
	nc, err := nats.Connect(url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(nc.Close)
	js, err := jetstream.New(nc)
	if err != nil {
		t.Fatalf("jetstream: %v", err)
	}
	return nc, js
}

func reply(t *testing.T, msg *nats.Msg, ok any, errMsg string) {
	t.Helper()
	var r Reply
	if errMsg != "" {
		r.Err = errMsg
	} else {
		raw, _ := json.Marshal(ok)
		r.OK = raw
	}
	data, _ := json.Marshal(r)
	msg.Respond(data)
}

func newTestClient(t *testing.T) (*Client, *nats.Conn, jetstream.JetStream) {
	t.Helper()
	_, url := startEmbeddedNATS(t)
	nc, js := connect(t, url)
	cfg := config.InferenceConfig{
		SubjectPrefix: "test.inference",
		Timeout:       config.Duration(2 * time.Second),
		ModelsBucket:  "models",
	}
	return NewClient(nc, js, cfg, zap.NewNop()), nc, js
}

func TestDetect(t *testing.T) {
	client, nc, _ := newTestClient(t)

	sub, err := nc.Subscribe("test.inference.detect", func(msg *nats.Msg) {
		if string(msg.Data) == "no-face" {
			reply(t, msg, nil, "no face found")
			return
		}
		reply(t, msg, types.BoundingBox{Left: 1, Top: 2, Right: 3, Bottom: 4}, "")
	})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	box, err := client.Detect(context.Background(), []byte("face"))
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if box.Right != 3 || box.Bottom != 4 {
		t.Errorf("unexpected box %+v", box)
	}

	_, err = client.Detect(context.Background(), []byte("no-face"))
	var dfe *types.DetectionFailedError
	if !errors.As(err, &dfe) {
		t.Fatalf("expected DetectionFailedError, got %v", err)
	}
	if dfe.Reason != "no face found" {
		t.Errorf("reason = %q", dfe.Reason)
	}
}

func TestDetectNoResponders(t *testing.T) {
	client, _, _ := newTestClient(t)

	_, err := client.Detect(context.Background(), []byte("img"))
	var dfe *types.DetectionFailedError
	if !errors.As(err, &dfe) {
		t.Fatalf("expected DetectionFailedError without workers, got %v", err)
	}
}

func TestRecognizeAndEmbed(t *testing.T) {
	client, nc, _ := newTestClient(t)

	nc.Subscribe("test.inference.recognize", func(msg *nats.Msg) {
		reply(t, msg, types.Person{Label: "Lain", Score: 0.92}, "")
	})
	nc.Subscribe("test.inference.embed", func(msg *nats.Msg) {
		reply(t, msg, []float32{0.5, 0.25}, "")
	})
	nc.Flush()

	person, err := client.Recognize(context.Background(), []byte("img"))
	if err != nil {
		t.Fatal(err)
	}
	if person.Label != "Lain" || person.Score != 0.92 {
		t.Errorf("unexpected person %+v", person)
	}

	vec, err := client.Embed(context.Background(), []byte("img"))
	if err != nil {
		t.Fatal(err)
	}
	if len(vec) != 2 || vec[1] != 0.25 {
		t.Errorf("unexpected vector %v", vec)
	}
}

func TestRecognizeFailure(t *testing.T) {
	client, nc, _ := newTestClient(t)
	nc.Subscribe("test.inference.recognize", func(msg *nats.Msg) {
		reply(t, msg, nil, "model not loaded")
	})
	nc.Flush()

	_, err := client.Recognize(context.Background(), []byte("img"))
	var rfe *types.RecognitionFailedError
	if !errors.As(err, &rfe) {
		t.Fatalf("expected RecognitionFailedError, got %v", err)
	}
}

func TestLoadModels(t *testing.T) {
	client, nc, js := newTestClient(t)
	ctx := context.Background()

	got := make(chan SetupRequest, 1)
	nc.Subscribe("test.inference.setup", func(msg *nats.Msg) {
		var req SetupRequest
		json.Unmarshal(msg.Data, &req)
		got <- req
		reply(t, msg, true, "")
	})
	nc.Flush()

	if err := client.LoadModels(ctx, []byte("det-model"), []byte("rec-model")); err != nil {
		t.Fatalf("LoadModels failed: %v", err)
	}

	req := <-got
	if req.Bucket != "models" || req.Detection != DetectionModelObject || req.Recognition != RecognitionModelObject {
		t.Errorf("unexpected setup request %+v", req)
	}

	obs, err := js.ObjectStore(ctx, "models")
	if err != nil {
		t.Fatal(err)
	}
	data, err := obs.GetBytes(ctx, DetectionModelObject)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "det-model" {
		t.Errorf("detection model = %q", data)
	}
	data, _ = obs.GetBytes(ctx, RecognitionModelObject)
	if string(data) != "rec-model" {
		t.Errorf("recognition model = %q", data)
	}
}

type fakeEmbedder struct {
	vec []float32
	err error
}

func (f *fakeEmbedder) Embed(context.Context, []byte) ([]float32, error) { return f.vec, f.err }

type fakeGallery struct {
	label string
	score float32
	err   error
	query []float32
}

func (g *fakeGallery) Nearest(q []float32) (string, float32, error) {
	g.query = q
	return g.label, g.score, g.err
}

func TestNearestRecognizer(t *testing.T) {
	gallery := &fakeGallery{label: "lain", score: 0.97}
	r := NewNearestRecognizer(&fakeEmbedder{vec: []float32{1, 2}}, gallery, zap.NewNop())

	person, err := r.Recognize(context.Background(), []byte("img"))
	if err != nil {
		t.Fatal(err)
	}
	if person.Label != "lain" || person.Score != 0.97 {
		t.Errorf("unexpected person %+v", person)
	}
	if len(gallery.query) != 2 {
		t.Error("embedding not passed to gallery")
	}
}

func TestNearestRecognizerFailures(t *testing.T) {
	var rfe *types.RecognitionFailedError

	r := NewNearestRecognizer(&fakeEmbedder{err: errors.New("gpu on fire")}, &fakeGallery{}, zap.NewNop())
	if _, err := r.Recognize(context.Background(), nil); !errors.As(err, &rfe) {
		t.Errorf("embed failure: expected RecognitionFailedError, got %v", err)
	}

	r = NewNearestRecognizer(&fakeEmbedder{vec: []float32{1}}, &fakeGallery{err: errors.New("empty")}, zap.NewNop())
	if _, err := r.Recognize(context.Background(), nil); !errors.As(err, &rfe) {
		t.Errorf("gallery failure: expected RecognitionFailedError, got %v", err)
	}
}
