package mail

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMessageFormat(t *testing.T) {
	msg := message("from@x.y", "to@a.b", "hi there", "<html><b>hello</b></html>")

	assert.Contains(t, msg, "From: from@x.y\r\n")
	assert.Contains(t, msg, "To: to@a.b\r\n")
	assert.Contains(t, msg, "Subject: hi there\r\n")
	assert.Contains(t, msg, "MIME-Version: 1.0\r\n")
	assert.Contains(t, msg, "Content-Type: text/html; charset=\"utf-8\"\r\n")

	// Headers and body are separated by a blank line.
	assert.Contains(t, msg, "\r\n\r\n<html><b>hello</b></html>\r\n")
}

func TestNewDefaultsFromToUsername(t *testing.T) {
	m := New(Config{Username: "user@x.y"})
	assert.Equal(t, "user@x.y", m.cfg.From)

	m = New(Config{Username: "user@x.y", From: "noreply@x.y"})
	assert.Equal(t, "noreply@x.y", m.cfg.From)
}
