package command

import (
	"bytes"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"

	"casedesk/internal/backend"
	"casedesk/internal/store"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	m.Run()
}

func TestPrintNotification(t *testing.T) {
	var buf bytes.Buffer
	printNotification(&buf, store.Notification{
		Title:     "Prazo amanhã",
		Message:   "Contestação no processo 0001",
		Severity:  store.SeverityWarning,
		Category:  store.CategoryDeadline,
		Priority:  store.PriorityHigh,
		Link:      "/processos/0001",
		CreatedAt: time.Date(2026, 3, 1, 15, 4, 0, 0, time.UTC),
	})

	out := buf.String()
	assert.Contains(t, out, "● [deadline/high] Prazo amanhã")
	assert.Contains(t, out, "3:04PM")
	assert.Contains(t, out, "Contestação no processo 0001")
	assert.Contains(t, out, "→ /processos/0001")
}

func TestPrintNotification_ReadMarker(t *testing.T) {
	var buf bytes.Buffer
	printNotification(&buf, store.Notification{Title: "ok", Read: true, Category: store.CategorySystem})

	assert.Contains(t, buf.String(), "○ [system/")
	assert.NotContains(t, buf.String(), "→")
}

func TestPrintTimelineEvent(t *testing.T) {
	var buf bytes.Buffer
	printTimelineEvent(&buf, store.TimelineEvent{
		Type:          store.EventProcess,
		Title:         "Sentença publicada",
		User:          "Ana",
		Description:   "procedente",
		ProcessNumber: "0001",
		Status:        store.StatusSuccess,
		Timestamp:     time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC),
	})

	out := buf.String()
	assert.Contains(t, out, "▸ process Sentença publicada (proc. 0001)")
	assert.Contains(t, out, "Ana procedente")
}

func TestPrintRemoteNotification(t *testing.T) {
	var buf bytes.Buffer
	printRemoteNotification(&buf, backend.NotificationDTO{
		ID:        42,
		Title:     "Pagamento recebido",
		Type:      "success",
		Category:  "payment",
		CreatedAt: time.Now(),
	})

	assert.Contains(t, buf.String(), "● #42")
	assert.Contains(t, buf.String(), "Pagamento recebido")
}
