package classifier

import (
	"strings"
	"testing"

	"github.com/sipeed/mjbridge/pkg/bus"
)

func TestExtractProgress(t *testing.T) {
	tests := []struct {
		name        string
		text        string
		wantLabel   string
		wantPercent int
		wantHas     bool
	}{
		{"percentage", "**a cat** - <@1> (42%) (fast)", LabelInProgress, 42, true},
		{"waiting", "**a cat** - <@1> (Waiting to start)", "Waiting to start", 0, false},
		{"neither", "**a cat** - <@1> (fast)", LabelInProgress, 0, false},
		{"percent inside prompt only", "**draw (50%) of a pie** - <@1> (fast)", LabelInProgress, 0, false},
		{"out of range", "**a cat** - (250%)", LabelInProgress, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := ExtractProgress(tt.text, "Waiting to start")
			if p.Label != tt.wantLabel || p.Percent != tt.wantPercent || p.HasPercent != tt.wantHas {
				t.Fatalf("ExtractProgress(%q) = %+v", tt.text, p)
			}
		})
	}
}

func TestExtractJobID(t *testing.T) {
	const id = "3f2a9c1e-5b7d-4e8f-9a0b-1c2d3e4f5a6b"

	t.Run("regular attachment", func(t *testing.T) {
		got, eph := ExtractJobID("https://cdn.discordapp.com/attachments/1/2/user_a_cat_" + id + ".png?ex=abc&is=def")
		if got != id || eph {
			t.Fatalf("got (%q, %v)", got, eph)
		}
	})

	t.Run("ephemeral attachment", func(t *testing.T) {
		got, eph := ExtractJobID("https://cdn.discordapp.com/ephemeral-attachments/1/2/user_a_cat_" + id + ".png")
		if got != id || !eph {
			t.Fatalf("got (%q, %v)", got, eph)
		}
		if len(got) != 36 {
			t.Fatalf("ephemeral id length = %d", len(got))
		}
	})

	t.Run("ephemeral short path", func(t *testing.T) {
		got, eph := ExtractJobID("https://cdn.discordapp.com/ephemeral-attachments/x.png")
		if got != "" || !eph {
			t.Fatalf("got (%q, %v)", got, eph)
		}
	})

	t.Run("ephemeral file without extension", func(t *testing.T) {
		// The dot belongs to a directory, not the file name.
		raw := "https://cdn.discordapp.com/ephemeral-attachments/1/2/" + strings.Repeat("a", 40) + ".d/user_a_cat_" + id
		got, eph := ExtractJobID(raw)
		if got != "" || !eph {
			t.Fatalf("got (%q, %v)", got, eph)
		}
	})

	t.Run("ephemeral non-uuid before extension", func(t *testing.T) {
		got, eph := ExtractJobID("https://cdn.discordapp.com/ephemeral-attachments/1/2/" + strings.Repeat("z", 40) + ".png")
		if got != "" || !eph {
			t.Fatalf("got (%q, %v)", got, eph)
		}
	})

	t.Run("no token", func(t *testing.T) {
		got, eph := ExtractJobID("https://cdn.discordapp.com/attachments/1/2/grid.png")
		if got != "" || eph {
			t.Fatalf("got (%q, %v)", got, eph)
		}
	})
}

func TestExtractImageSkipsNonImages(t *testing.T) {
	msg := &bus.Message{
		ID: "m1",
		Attachments: []bus.Attachment{
			{URL: "https://cdn.discordapp.com/attachments/1/2/notes.txt", Filename: "notes.txt"},
			{URL: "https://cdn.discordapp.com/attachments/1/2/grid_0.webp", ContentType: "image/webp"},
		},
	}
	img := ExtractImage(msg)
	if img == nil || img.URL != msg.Attachments[1].URL {
		t.Fatalf("ExtractImage = %+v", img)
	}
	if ExtractImage(&bus.Message{}) != nil {
		t.Fatal("expected nil for message without attachments")
	}
}

func TestExtractPrompt(t *testing.T) {
	if got := ExtractPrompt("**a cat** - <@1>"); got != "a cat" {
		t.Fatalf("ExtractPrompt = %q", got)
	}
	if got := ExtractPrompt("  plain  "); got != "plain" {
		t.Fatalf("ExtractPrompt = %q", got)
	}
}
