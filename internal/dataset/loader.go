// Package dataset fetches the raw region document the overlay is built from.
package dataset

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/mohammed-shakir/h3-hexoverlay/internal/cache/redisstore"
)

var ErrDataLoad = errors.New("dataset load failed")

const maxDocBytes = 512 << 20

// KV is the subset of a key-value store the loader reads from.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Close() error
}

type Loader struct {
	HTTP      *http.Client
	OpenRedis func(ctx context.Context, addr string) (KV, error)
}

func NewLoader() *Loader {
	return &Loader{
		HTTP: newHTTPClient(),
		OpenRedis: func(ctx context.Context, addr string) (KV, error) {
			return redisstore.New(ctx, addr)
		},
	}
}

func newHTTPClient() *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          4,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{Transport: transport, Timeout: 60 * time.Second}
}

// Load returns the FeatureCollection document named by source: a file path,
// an http(s) URL or redis://host:port/key. Every failure wraps ErrDataLoad.
func (l *Loader) Load(ctx context.Context, source string) ([]byte, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return nil, fmt.Errorf("%w: empty source", ErrDataLoad)
	}

	var (
		doc []byte
		err error
	)
	switch {
	case strings.HasPrefix(source, "http://"), strings.HasPrefix(source, "https://"):
		doc, err = l.fetchHTTP(ctx, source)
	case strings.HasPrefix(source, "redis://"):
		doc, err = l.fetchRedis(ctx, source)
	default:
		doc, err = os.ReadFile(strings.TrimPrefix(source, "file://"))
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDataLoad, source, err)
	}
	if err := validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDataLoad, source, err)
	}
	return doc, nil
}

func (l *Loader) fetchHTTP(ctx context.Context, src string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/geo+json, application/json")

	resp, err := l.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http status %d", resp.StatusCode)
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxDocBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return b, nil
}

func (l *Loader) fetchRedis(ctx context.Context, src string) ([]byte, error) {
	u, err := url.Parse(src)
	if err != nil {
		return nil, fmt.Errorf("parse redis source: %w", err)
	}
	key := strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || key == "" {
		return nil, errors.New("redis source must be redis://host:port/key")
	}
	kv, err := l.OpenRedis(ctx, u.Host)
	if err != nil {
		return nil, err
	}
	defer func() { _ = kv.Close() }()
	return kv.Get(ctx, key)
}

// validate checks the header only; geometry is parsed by the reprojector.
func validate(doc []byte) error {
	if len(bytes.TrimSpace(doc)) == 0 {
		return errors.New("empty document")
	}
	var hdr struct {
		Type     string            `json:"type"`
		Features []json.RawMessage `json:"features"`
	}
	if err := json.Unmarshal(doc, &hdr); err != nil {
		return fmt.Errorf("parse json: %w", err)
	}
	if hdr.Type != "FeatureCollection" {
		return fmt.Errorf(`type is %q (want "FeatureCollection")`, hdr.Type)
	}
	return nil
}
