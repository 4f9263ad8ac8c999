package classifier

import (
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/sipeed/mjbridge/pkg/bus"
	"github.com/sipeed/mjbridge/pkg/jobs"
	"github.com/sipeed/mjbridge/pkg/matcher"
	"github.com/sipeed/mjbridge/pkg/utils"
)

const (
	// LabelInProgress is reported when a progress edit carries no percentage.
	LabelInProgress = "in progress"

	ephemeralPathMarker = "ephemeral-attachments"
	uuidLen             = 36
)

var (
	percentRe = regexp.MustCompile(`\((\d{1,3})%\)`)
	jobIDRe   = regexp.MustCompile(`[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`)
)

// ExtractProgress reads the progress marker out of a bot message. A "(n%)"
// marker wins; otherwise the waiting phrase, if present, becomes the label;
// otherwise the label is LabelInProgress.
func ExtractProgress(text, waitingPhrase string) jobs.Progress {
	decoration := Decoration(text)
	if m := percentRe.FindStringSubmatch(decoration); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n <= 100 {
			return jobs.Progress{Label: LabelInProgress, Percent: n, HasPercent: true}
		}
	}
	if waitingPhrase != "" && matcher.NearPhrase(decoration, waitingPhrase, 0) {
		return jobs.Progress{Label: waitingPhrase}
	}
	return jobs.Progress{Label: LabelInProgress}
}

// ExtractPrompt returns the bold prompt echoed by the bot, or the whole text.
func ExtractPrompt(text string) string {
	if bold := matcher.BoldSegment(text); bold != "" {
		return bold
	}
	return strings.TrimSpace(text)
}

// Decoration is the message text with the echoed prompt removed, so phrases
// and markers inside the user's own prompt are not mistaken for bot status.
func Decoration(text string) string {
	if bold := matcher.BoldSegment(text); bold != "" {
		return strings.Replace(text, "**"+bold+"**", "", 1)
	}
	return text
}

// ExtractImage returns the first image attachment of msg, or nil.
func ExtractImage(msg *bus.Message) *jobs.Image {
	for _, a := range msg.Attachments {
		if !isImageAttachment(a) {
			continue
		}
		id, ephemeral := ExtractJobID(a.URL)
		return &jobs.Image{
			URL:       a.URL,
			Filename:  a.Filename,
			JobID:     id,
			Ephemeral: ephemeral,
		}
	}
	return nil
}

// ExtractJobID derives the job UUID from an attachment URL. Ephemeral
// attachments carry it as the 36 characters right before the file
// extension; regular attachments carry it as a dash-delimited token.
func ExtractJobID(rawURL string) (string, bool) {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		p = u.Path
	}

	if strings.Contains(p, ephemeralPathMarker) {
		base := path.Base(p)
		ext := strings.LastIndex(base, ".")
		if ext < uuidLen {
			return "", true
		}
		id := base[ext-uuidLen : ext]
		if uuid.Validate(id) != nil {
			return "", true
		}
		return id, true
	}

	// The filename holds the job id; earlier path segments may hold other ids.
	matches := jobIDRe.FindAllString(path.Base(p), -1)
	if len(matches) == 0 {
		matches = jobIDRe.FindAllString(p, -1)
	}
	for i := len(matches) - 1; i >= 0; i-- {
		if _, err := uuid.Parse(matches[i]); err == nil {
			return matches[i], false
		}
	}
	return "", false
}

func isImageAttachment(a bus.Attachment) bool {
	if strings.HasPrefix(a.ContentType, "image/") {
		return true
	}
	name := a.Filename
	if name == "" {
		name = a.URL
		if u, err := url.Parse(a.URL); err == nil {
			name = u.Path
		}
	}
	return utils.IsImageFile(name)
}
