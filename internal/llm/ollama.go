package llm

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/JexSrs/go-ollama"
	"github.com/sirupsen/logrus"
)

// OllamaClient talks to a local Ollama server.
type OllamaClient struct {
	client *ollama.Ollama
	model  string
}

// NewOllamaClient creates a new client for Ollama.
func NewOllamaClient(host, model string) (*OllamaClient, error) {
	ollamaURL, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("invalid Ollama URL: %w", err)
	}

	client := ollama.New(*ollamaURL)

	logrus.Infof("Using Ollama client for host: %s", host)
	logrus.Infof("Using Ollama model: %s", model)

	return &OllamaClient{
		client: client,
		model:  model,
	}, nil
}

// Complete sends a single-turn generate request to Ollama. The library call
// is blocking, so it runs in a goroutine and the result is discarded when
// ctx expires first.
func (oc *OllamaClient) Complete(ctx context.Context, systemMessage, userPrompt string) (string, error) {
	type reply struct {
		text string
		err  error
	}
	ch := make(chan reply, 1)

	go func() {
		res, err := oc.client.Generate(
			oc.client.Generate.WithModel(oc.model),
			oc.client.Generate.WithSystem(systemMessage),
			oc.client.Generate.WithPrompt(userPrompt),
		)
		if err != nil {
			ch <- reply{err: fmt.Errorf("ollama generate: %w", err)}
			return
		}
		if !res.Done {
			ch <- reply{err: fmt.Errorf("ollama request did not complete (unexpected streaming behavior)")}
			return
		}
		if res.Response == "" {
			ch <- reply{err: fmt.Errorf("ollama returned an empty response")}
			return
		}
		// Models occasionally wrap the answer in code fences.
		ch <- reply{text: strings.TrimSpace(strings.Trim(res.Response, "`"))}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return "", r.err
		}
		logrus.Debug("Response received from Ollama.")
		return r.text, nil
	}
}
