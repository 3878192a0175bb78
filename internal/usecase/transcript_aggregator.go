package usecase

import (
	"strings"
	"sync"

	"vetchart/internal/domain"
)

// transcriptAggregator tracks what a live recognition stream has produced so
// far. Final results are the source of truth; the last interim result is kept
// so speech cut off by a stop is not lost.
type transcriptAggregator struct {
	mu         sync.Mutex
	finals     []string
	lastSpoken string
}

func newTranscriptAggregator() *transcriptAggregator {
	return &transcriptAggregator{}
}

func (a *transcriptAggregator) Add(event domain.TranscriptEvent) {
	text := strings.TrimSpace(event.Text)
	if text == "" {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastSpoken = text
	if event.Kind == domain.TranscriptKindFinal {
		a.finals = append(a.finals, text)
	}
}

// Tail returns interim speech that never arrived as a final result, so a stop
// mid-sentence still lands in the transcript. Empty when the finals already
// cover everything spoken.
func (a *transcriptAggregator) Tail() string {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.lastSpoken == "" {
		return ""
	}
	if len(a.finals) == 0 {
		return a.lastSpoken
	}
	if a.finals[len(a.finals)-1] == a.lastSpoken ||
		strings.HasSuffix(strings.Join(a.finals, " "), a.lastSpoken) {
		return ""
	}
	return a.lastSpoken
}
