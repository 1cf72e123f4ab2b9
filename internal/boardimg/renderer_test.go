package boardimg

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
)

var pngMagic = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

func TestRenderPNG(t *testing.T) {
	payload := json.RawMessage(`{
		"turn": "red",
		"board": [
			["red", "red", null],
			[null, null, null],
			["blue", "blue", "blue"]
		]
	}`)

	png, err := NewPNGRenderer().RenderPNG(context.Background(), payload)
	if err != nil {
		t.Fatalf("RenderPNG: %v", err)
	}
	if !bytes.HasPrefix(png, pngMagic) {
		t.Fatalf("output is not a PNG")
	}
}

func TestRenderPNGUnknownMarkerIgnored(t *testing.T) {
	payload := json.RawMessage(`{"turn":"blue","board":[["green","red"]]}`)
	png, err := NewPNGRenderer().RenderPNG(context.Background(), payload)
	if err != nil {
		t.Fatalf("RenderPNG: %v", err)
	}
	if !bytes.HasPrefix(png, pngMagic) {
		t.Fatalf("output is not a PNG")
	}
}

func TestRenderPNGRejectsBadPayload(t *testing.T) {
	r := NewPNGRenderer()
	if _, err := r.RenderPNG(context.Background(), json.RawMessage(`not json`)); err == nil {
		t.Fatalf("expected error for invalid payload")
	}
	if _, err := r.RenderPNG(context.Background(), json.RawMessage(`{"board":[]}`)); err == nil {
		t.Fatalf("expected error for empty board")
	}
}

func TestRenderPNGHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	payload := json.RawMessage(`{"turn":"red","board":[["red"]]}`)
	if _, err := NewPNGRenderer().RenderPNG(ctx, payload); err == nil {
		t.Fatalf("expected context error")
	}
}
