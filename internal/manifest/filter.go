// Package manifest rewrites the remote content manifest so the player's
// optional-content choices are honored before the content engine ever
// sees it. The engine stays unaware: the filter sits in its HTTP
// transport.
package manifest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"kingdoms-launcher/internal/domain"
)

// EnabledFunc reports the optional-content paths the player has turned
// on. Called per intercepted request so toggles apply without restarts.
type EnabledFunc func(ctx context.Context) ([]string, error)

// Transport decorates a base RoundTripper:
//
//   - requests to Host over plain http are upgraded to https,
//     unconditionally (the manifest JSON itself carries http:// URLs);
//   - responses from the manifest endpoint are rewritten: enabled
//     optional entries move under the mandatory prefix, disabled ones are
//     dropped so the engine's reconciliation removes any installed copy.
//
// Everything else passes through untouched.
type Transport struct {
	Base http.RoundTripper
	// Host is the community host whose scheme is forced to https.
	Host string
	// FilesPrefix identifies the manifest endpoint path.
	FilesPrefix string
	Enabled     EnabledFunc
	Logger      *logrus.Logger
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Scheme == "http" && req.URL.Host == t.Host {
		upgraded := req.Clone(req.Context())
		upgraded.URL.Scheme = "https"
		req = upgraded
	}

	if !t.isManifestRequest(req) {
		return t.base().RoundTrip(req)
	}

	res, err := t.base().RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if res.StatusCode != http.StatusOK {
		return res, nil
	}

	body, err := io.ReadAll(res.Body)
	res.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("read manifest response: %w", err)
	}

	var entries []domain.ManifestEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}

	enabled, err := t.Enabled(req.Context())
	if err != nil {
		return nil, fmt.Errorf("read enabled optional content: %w", err)
	}

	filtered := Filter(entries, enabled)
	if t.Logger != nil {
		t.Logger.WithFields(logrus.Fields{
			"entries":  len(entries),
			"filtered": len(filtered),
		}).Debug("manifest rewritten")
	}

	out, err := json.Marshal(filtered)
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}

	rewritten := &http.Response{
		Status:        http.StatusText(http.StatusOK),
		StatusCode:    http.StatusOK,
		Proto:         res.Proto,
		ProtoMajor:    res.ProtoMajor,
		ProtoMinor:    res.ProtoMinor,
		Header:        http.Header{"Content-Type": []string{"application/json"}},
		Body:          io.NopCloser(bytes.NewReader(out)),
		ContentLength: int64(len(out)),
		Request:       req,
	}
	return rewritten, nil
}

func (t *Transport) isManifestRequest(req *http.Request) bool {
	if req.URL.Host != t.Host {
		return false
	}
	if !strings.Contains(req.URL.Path, t.FilesPrefix) {
		return false
	}
	return req.URL.Query().Has("instance")
}

// Filter applies the optional-content selection to a manifest. Entries
// under the optional prefix are either relocated under the mandatory
// prefix (enabled) or removed (disabled); all other entries pass through
// in their original order. Marshalling an empty result must yield an
// empty JSON array, never null, so the slice is always allocated.
func Filter(entries []domain.ManifestEntry, enabled []string) []domain.ManifestEntry {
	enabledSet := make(map[string]struct{}, len(enabled))
	for _, p := range enabled {
		enabledSet[p] = struct{}{}
	}

	out := make([]domain.ManifestEntry, 0, len(entries))
	for _, entry := range entries {
		if !strings.HasPrefix(entry.Path, domain.OptionalPrefix) {
			out = append(out, entry)
			continue
		}
		if _, ok := enabledSet[entry.Path]; ok {
			entry.Path = domain.MandatoryPrefix + strings.TrimPrefix(entry.Path, domain.OptionalPrefix)
			out = append(out, entry)
		}
		// disabled optional entries are dropped entirely
	}
	return out
}

var _ http.RoundTripper = (*Transport)(nil)
