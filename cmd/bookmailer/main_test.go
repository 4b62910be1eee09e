package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/inbucket/bookmailer/pkg/book"
	"github.com/inbucket/bookmailer/pkg/config"
	"github.com/inbucket/bookmailer/pkg/epub"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenLog(t *testing.T) {
	saved, savedLevel := log.Logger, zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = saved
		zerolog.SetGlobalLevel(savedLevel)
	})

	_, err := openLog("verbose", "stderr", false)
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "bookmailer.log")
	closeLog, err := openLog("WARN", path, true)
	require.NoError(t, err)
	assert.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())
	log.Info().Msg("dropped")
	log.Warn().Msg("kept")
	closeLog()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "dropped")
	assert.Contains(t, string(data), `"message":"kept"`)
}

func TestOutputName(t *testing.T) {
	tcs := map[string]struct {
		bk   book.Book
		want string
	}{
		"mail filename": {book.Book{Mail: book.MailEntry{Filename: "x.epub"}}, "x.epub"},
		"title":         {book.Book{Document: epub.Document{Title: " On/Off: A Story? "}}, "On_Off_ A Story_.epub"},
		"untitled":      {book.Book{}, "book.epub"},
	}
	for name, tc := range tcs {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, outputName(&tc.bk))
		})
	}
}

func TestRootConfig(t *testing.T) {
	conf := &config.Root{LogLevel: "DEBUG"}
	assert.Same(t, conf, rootConfig([]any{conf}))
	assert.NotNil(t, rootConfig(nil))
	assert.NotNil(t, rootConfig([]any{"other"}))
}

func TestNewMailerOverridesRecipient(t *testing.T) {
	conf := &config.Root{
		SMTP: config.SMTP{Security: "none", To: "reader@kindle.com"},
		Lua:  config.Lua{Path: filepath.Join(t.TempDir(), "absent.lua")},
	}
	m, extHost, done, err := newMailer(conf, "other@kindle.com")
	require.NoError(t, err)
	defer done()
	assert.NotNil(t, m)
	assert.NotNil(t, extHost)

	conf.SMTP.Security = "carrier pigeon"
	_, _, _, err = newMailer(conf, "")
	require.Error(t, err)
}
