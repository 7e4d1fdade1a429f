package presenter

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/dustin/go-humanize"
	"github.com/jarrod-lowe/jmap-service-webmail/internal/email"
)

func rawMessage(size int) []byte {
	var b bytes.Buffer
	b.WriteString("From: bob@example.net\r\nSubject: big\r\n\r\n")
	line := strings.Repeat("0123456789", 7) + "\r\n"
	for b.Len() < size {
		b.WriteString(line)
	}
	return b.Bytes()[:size]
}

func TestSource_Truncates(t *testing.T) {
	raw := rawMessage(850_000)
	msgs := &fakeMessages{messages: map[uint32]*email.Message{7: sampleMessage()}}
	blobs := &fakeBlobs{blobs: map[string][]byte{"user-123/blob-raw": raw}}

	view, err := newTestPresenter(msgs, blobs).Source(context.Background(), publicTarget(t))
	if err != nil {
		t.Fatalf("Source error = %v", err)
	}

	if len(view.Prefix) < SourceLimit {
		t.Fatalf("prefix = %d bytes, want at least %d", len(view.Prefix), SourceLimit)
	}
	if !bytes.Equal(view.Prefix, raw[:len(view.Prefix)]) {
		t.Error("prefix differs from the raw source")
	}
	if want := int64(len(raw) - len(view.Prefix)); view.Dropped != want {
		t.Errorf("Dropped = %d, want %d", view.Dropped, want)
	}
	if view.Size != int64(len(raw)) {
		t.Errorf("Size = %d, want %d", view.Size, len(raw))
	}

	marker := "&lt;+ " + humanize.IBytes(uint64(view.Dropped)) + " ...&gt;"
	if !strings.Contains(string(view.HTML), marker) {
		t.Errorf("HTML does not end with marker %q", marker)
	}
	if view.Subject != "Café news" {
		t.Errorf("Subject = %q", view.Subject)
	}
}

func TestSource_Small(t *testing.T) {
	raw := []byte("Subject: <hi>\r\n\r\nbody & more")
	msgs := &fakeMessages{messages: map[uint32]*email.Message{7: sampleMessage()}}
	blobs := &fakeBlobs{blobs: map[string][]byte{"user-123/blob-raw": raw}}

	view, err := newTestPresenter(msgs, blobs).Source(context.Background(), publicTarget(t))
	if err != nil {
		t.Fatalf("Source error = %v", err)
	}
	if view.Dropped != 0 {
		t.Errorf("Dropped = %d, want 0", view.Dropped)
	}
	if view.Size != int64(len(raw)) {
		t.Errorf("Size = %d, want %d", view.Size, len(raw))
	}
	want := "<span>Subject: &lt;hi&gt;</span>\n<span></span>\n<span>body &amp; more</span>"
	if string(view.HTML) != want {
		t.Errorf("HTML = %q, want %q", view.HTML, want)
	}
}

func TestSource_Errors(t *testing.T) {
	tests := []struct {
		name     string
		blobs    *fakeBlobs
		wantErr  error
		upstream bool
	}{
		{"missing blob", &fakeBlobs{}, email.ErrMessageNotFound, false},
		{"blob service down", &fakeBlobs{err: errors.New("502")}, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msgs := &fakeMessages{messages: map[uint32]*email.Message{7: sampleMessage()}}
			_, err := newTestPresenter(msgs, tt.blobs).Source(context.Background(), publicTarget(t))
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
			if tt.upstream && errors.Is(err, email.ErrMessageNotFound) {
				t.Errorf("error = %v, want upstream failure", err)
			}
		})
	}
}

func TestRaw_Untruncated(t *testing.T) {
	raw := rawMessage(900_000)
	msgs := &fakeMessages{messages: map[uint32]*email.Message{7: sampleMessage()}}
	blobs := &fakeBlobs{blobs: map[string][]byte{"user-123/blob-raw": raw}}

	rc, err := newTestPresenter(msgs, blobs).Raw(context.Background(), PrivateTarget("user-123", testMailbox, 7))
	if err != nil {
		t.Fatalf("Raw error = %v", err)
	}
	defer rc.Close()

	got, _ := io.ReadAll(rc)
	if !bytes.Equal(got, raw) {
		t.Errorf("Raw returned %d bytes, want %d identical bytes", len(got), len(raw))
	}
}

func TestRaw_Forbidden(t *testing.T) {
	msgs := &fakeMessages{messages: map[uint32]*email.Message{7: sampleMessage()}}
	_, err := newTestPresenter(msgs, nil).Raw(context.Background(), PrivateTarget("user-999", testMailbox, 7))
	if !errors.Is(err, ErrForbidden) {
		t.Errorf("error = %v, want ErrForbidden", err)
	}
}
