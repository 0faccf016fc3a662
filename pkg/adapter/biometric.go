package adapter

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/devlink-broker/devlink-go/pkg/model"
)

// BiometricUser is one enrolled identity on a terminal. The Template field
// never leaves this package; listings expose only the metadata.
type BiometricUser struct {
	UserID     string    `json:"user_id"`
	UserName   string    `json:"user_name"`
	EnrolledAt time.Time `json:"enrolled_at"`
	Template   []byte    `json:"-"`
}

// MatchResult is the outcome of a template comparison. Confidence is in
// [0,1]; thresholding is the caller's policy.
type MatchResult struct {
	Matched    bool    `json:"matched"`
	UserID     string  `json:"user_id,omitempty"`
	Confidence float64 `json:"confidence"`
}

// biometricTerminal is the per-device template store.
type biometricTerminal struct {
	users map[string]*BiometricUser
	open  bool
}

// BiometricAdapter manages fingerprint terminals. Matching is a byte
// similarity stub, not a production matcher; templates live in memory only
// and are gone on restart.
type BiometricAdapter struct {
	mu        sync.Mutex
	terminals map[string]*biometricTerminal
}

// NewBiometricAdapter creates the biometric adapter.
func NewBiometricAdapter() *BiometricAdapter {
	return &BiometricAdapter{terminals: make(map[string]*biometricTerminal)}
}

// Kind returns model.KindBiometric.
func (b *BiometricAdapter) Kind() model.DeviceKind { return model.KindBiometric }

// Discover returns nothing: biometric terminals enter the registry through
// the network scan (port 4370) or explicit connects, not local enumeration.
func (b *BiometricAdapter) Discover(ctx context.Context) ([]*model.Device, error) {
	return nil, nil
}

// Open starts a session with a terminal. Terminals are created lazily, so
// opening a freshly scanned device needs no prior enrollment state.
func (b *BiometricAdapter) Open(deviceID string, config map[string]any) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	t := b.terminal(deviceID)
	if t.open {
		return ErrAlreadyOpen
	}
	t.open = true
	return nil
}

// Close ends the session but keeps the enrolled templates.
func (b *BiometricAdapter) Close(deviceID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if t, ok := b.terminals[deviceID]; ok {
		t.open = false
	}
	return nil
}

// Write is not meaningful for biometric terminals.
func (b *BiometricAdapter) Write(deviceID string, data []byte) (int, error) {
	return 0, ErrUnsupportedOnPlatform
}

// Read is not meaningful for biometric terminals.
func (b *BiometricAdapter) Read(deviceID string, maxBytes int, timeout time.Duration) ([]byte, error) {
	return nil, ErrUnsupportedOnPlatform
}

// Status reports the session state and enrollment count.
func (b *BiometricAdapter) Status(deviceID string) (map[string]any, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.terminals[deviceID]
	if !ok {
		return map[string]any{"is_open": false, "user_count": 0}, nil
	}
	return map[string]any{
		"is_open":    t.open,
		"user_count": len(t.users),
	}, nil
}

// IsOpen reports whether a session is active on the terminal.
func (b *BiometricAdapter) IsOpen(deviceID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.terminals[deviceID]
	return ok && t.open
}

// Enroll stores or replaces the template for a user.
func (b *BiometricAdapter) Enroll(deviceID, userID, userName string, template []byte) error {
	if userID == "" {
		return fmt.Errorf("user_id is required")
	}
	if len(template) == 0 {
		return fmt.Errorf("template is empty")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	t := b.terminal(deviceID)
	tpl := make([]byte, len(template))
	copy(tpl, template)
	t.users[userID] = &BiometricUser{
		UserID:     userID,
		UserName:   userName,
		EnrolledAt: time.Now(),
		Template:   tpl,
	}
	return nil
}

// Authenticate compares a probe against one user's enrolled template.
func (b *BiometricAdapter) Authenticate(deviceID, userID string, probe []byte) (MatchResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.terminals[deviceID]
	if !ok {
		return MatchResult{}, ErrUnknownDevice
	}
	user, ok := t.users[userID]
	if !ok {
		return MatchResult{}, fmt.Errorf("user %q not enrolled", userID)
	}

	confidence := templateSimilarity(user.Template, probe)
	return MatchResult{
		Matched:    confidence > 0,
		UserID:     userID,
		Confidence: confidence,
	}, nil
}

// Identify compares a probe against every enrolled template and returns the
// best match.
func (b *BiometricAdapter) Identify(deviceID string, probe []byte) (MatchResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.terminals[deviceID]
	if !ok {
		return MatchResult{}, ErrUnknownDevice
	}

	best := MatchResult{}
	for id, user := range t.users {
		if c := templateSimilarity(user.Template, probe); c > best.Confidence {
			best = MatchResult{Matched: true, UserID: id, Confidence: c}
		}
	}
	return best, nil
}

// Users lists enrolled users ordered by user ID. Templates are stripped.
func (b *BiometricAdapter) Users(deviceID string) ([]BiometricUser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.terminals[deviceID]
	if !ok {
		return nil, nil
	}
	out := make([]BiometricUser, 0, len(t.users))
	for _, u := range t.users {
		out = append(out, BiometricUser{
			UserID:     u.UserID,
			UserName:   u.UserName,
			EnrolledAt: u.EnrolledAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

// DeleteUser removes a user's enrollment. Returns false when the user was
// not enrolled.
func (b *BiometricAdapter) DeleteUser(deviceID, userID string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.terminals[deviceID]
	if !ok {
		return false, nil
	}
	if _, ok := t.users[userID]; !ok {
		return false, nil
	}
	delete(t.users, userID)
	return true, nil
}

// terminal returns the store for a device, creating it if needed.
// Callers hold b.mu.
func (b *BiometricAdapter) terminal(deviceID string) *biometricTerminal {
	t, ok := b.terminals[deviceID]
	if !ok {
		t = &biometricTerminal{users: make(map[string]*BiometricUser)}
		b.terminals[deviceID] = t
	}
	return t
}

// templateSimilarity is the matching stub: the fraction of equal bytes over
// the shorter template, scaled by a length ratio penalty. Identical inputs
// score 1.0, disjoint inputs 0.0.
func templateSimilarity(a, b []byte) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	short, long := a, b
	if len(short) > len(long) {
		short, long = long, short
	}

	equal := 0
	for i := range short {
		if short[i] == long[i] {
			equal++
		}
	}

	ratio := float64(len(short)) / float64(len(long))
	return (float64(equal) / float64(len(short))) * ratio
}

var _ Adapter = (*BiometricAdapter)(nil)
