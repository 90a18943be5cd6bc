package domain

import (
	"testing"
	"time"
)

func TestIsTransientLocation(t *testing.T) {
	if !IsTransientLocation("mem://4a2b") {
		t.Fatalf("mem:// handle: want transient")
	}
	if !IsTransientLocation("blob:http://localhost:3000/9c1f") {
		t.Fatalf("blob: handle: want transient")
	}
	if IsTransientLocation("https://storage.googleapis.com/edits/v1.png") {
		t.Fatalf("https URL: want durable")
	}
	if IsTransientLocation("") {
		t.Fatalf("empty location: want not transient")
	}
	if IsDurableLocation("") {
		t.Fatalf("empty location: want not durable")
	}
}

func TestCloneIsolatesMetadata(t *testing.T) {
	v := &ImageVersion{
		ID:        "1",
		Kind:      KindAIEdit,
		CreatedAt: time.Now(),
		Metadata:  map[string]any{"prompt": "make it warmer"},
	}
	c := v.Clone()
	c.Metadata["prompt"] = "changed"
	if v.Prompt() != "make it warmer" {
		t.Fatalf("prompt: want=%q got=%q", "make it warmer", v.Prompt())
	}
}

func TestIsValidKind(t *testing.T) {
	for _, k := range []Kind{KindUpload, KindAIEdit, KindColor, KindCrop, KindMetadata} {
		if !IsValidKind(k) {
			t.Fatalf("kind %q: want valid", k)
		}
	}
	if IsValidKind(Kind("rotate")) {
		t.Fatalf("kind rotate: want invalid")
	}
}
