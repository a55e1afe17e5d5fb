package chatrelay

import (
	"crypto/tls"
	"strings"
	"unicode/utf8"

	"github.com/lrstanley/girc"
	"github.com/soyeahso/loadstone/internal/config"
	"github.com/soyeahso/loadstone/internal/logging"
	"github.com/soyeahso/loadstone/internal/version"
)

// Client is the IRC connection the relay writes to.
type Client interface {
	// Connect blocks until the connection ends.
	Connect() error
	IsConnected() bool
	Join(channel string)
	Message(target, text string)
	Quit(reason string)
	Close()
}

// Dialer builds a Client. onConnected runs each time registration with the
// server completes.
type Dialer func(cfg config.RelayConfig, log *logging.Logger, onConnected func()) Client

type gircClient struct {
	*girc.Client
}

func (c gircClient) Join(channel string)         { c.Cmd.Join(channel) }
func (c gircClient) Message(target, text string) { c.Cmd.Message(target, text) }

// DialIRC is the girc-backed Dialer.
func DialIRC(cfg config.RelayConfig, log *logging.Logger, onConnected func()) Client {
	port := cfg.Port
	if port == 0 {
		if cfg.UseTLS {
			port = 6697
		} else {
			port = 6667
		}
	}

	gircCfg := girc.Config{
		Server:  cfg.Server,
		Port:    port,
		Nick:    cfg.Nick,
		User:    cfg.Nick,
		Name:    "loadstone chat relay",
		SSL:     cfg.UseTLS,
		Version: version.UserAgent(),
	}
	if cfg.UseTLS {
		gircCfg.TLSConfig = &tls.Config{ServerName: cfg.Server}
	}
	if cfg.SASL && cfg.Password != "" {
		gircCfg.SASL = &girc.SASLPlain{User: cfg.Nick, Pass: cfg.Password}
	} else if cfg.Password != "" {
		gircCfg.ServerPass = cfg.Password
	}

	client := girc.New(gircCfg)
	client.Handlers.Add(girc.CONNECTED, func(c *girc.Client, _ girc.Event) {
		log.Info().Str("nick", c.GetNick()).Msg("connected to IRC")
		onConnected()
	})
	client.Handlers.Add(girc.DISCONNECTED, func(_ *girc.Client, _ girc.Event) {
		log.Warn().Msg("disconnected from IRC")
	})

	log.Info().
		Str("server", cfg.Server).
		Int("port", port).
		Str("nick", cfg.Nick).
		Bool("tls", cfg.UseTLS).
		Msg("connecting to IRC")

	return gircClient{client}
}

// splitMessage breaks text into IRC-sized lines. PRIVMSG cannot carry a
// newline, so every input line becomes at least one chunk; blank lines are
// dropped and lines longer than maxLen bytes are cut on rune boundaries.
func splitMessage(text string, maxLen int) []string {
	var chunks []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		for len(line) > maxLen {
			cut := maxLen
			for cut > 0 && !utf8.RuneStart(line[cut]) {
				cut--
			}
			if cut == 0 {
				cut = maxLen
			}
			chunks = append(chunks, line[:cut])
			line = line[cut:]
		}
		if line != "" {
			chunks = append(chunks, line)
		}
	}
	return chunks
}
