package broker

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/makeev/ingestd/internal/store"
)

// sharedSessionKey is the fixed store key the Session Keeper publishes its
// snapshot under, and the Tick Streamer / Bar Reconciler processes poll, per
// SPEC_FULL.md §5 ("the session state lives in shared session storage").
// Modeled as a one-member sorted set (score 0) so it reuses the Store
// interface's existing remove-then-add replace idiom (reconciler.replaceData)
// instead of requiring a plain get/set primitive.
const sharedSessionKey = "session:state"

type sharedSessionWire struct {
	CPCookie      string `json:"cp_cookie"`
	SSOUserID     string `json:"sso_user_id"`
	Authenticated bool   `json:"authenticated"`
}

// EnableSharedSession wires this client to read (and, for the process that
// obtains sessions, write) the encrypted session snapshot in st, keyed by
// secret. Without this, LoadSession is a no-op and ObtainSession never
// persists — the mode a single-process `ingestd` deployment runs in, since
// there session state never needs to leave the one in-memory SessionState.
func (c *PortalClient) EnableSharedSession(st store.Store, secret string) {
	c.sharedStore = st
	c.sharedSecret = secret
}

// persistShared encrypts the current session snapshot and replaces the
// shared store entry, following the same RemoveByScore-then-Add replace
// pattern diffAndWrite uses for bars.
func (c *PortalClient) persistShared(ctx context.Context) error {
	if c.sharedStore == nil {
		return nil
	}
	snap := c.session.Snapshot()
	raw, err := json.Marshal(sharedSessionWire{
		CPCookie:      snap.CPCookie,
		SSOUserID:     snap.SSOUserID,
		Authenticated: snap.Authenticated,
	})
	if err != nil {
		return err
	}
	ciphertext, err := encryptSession(c.sharedSecret, raw)
	if err != nil {
		return err
	}
	if err := c.sharedStore.RemoveByScore(ctx, sharedSessionKey, 0, 0); err != nil {
		return err
	}
	return c.sharedStore.Add(ctx, sharedSessionKey, ciphertext, 0)
}

// LoadSession rehydrates this client's session and cookie jar from shared
// storage, for processes (Tick Streamer, Bar Reconciler) that never call
// ObtainSession themselves. A no-op if EnableSharedSession was never called,
// or if nothing has been published yet.
func (c *PortalClient) LoadSession(ctx context.Context) error {
	if c.sharedStore == nil {
		return nil
	}
	members, err := c.sharedStore.RangeByScore(ctx, sharedSessionKey, 0, 0)
	if err != nil {
		return err
	}
	if len(members) == 0 {
		return nil
	}

	raw, err := decryptSession(c.sharedSecret, members[len(members)-1])
	if err != nil {
		return fmt.Errorf("decrypting shared session: %w", err)
	}
	var wire sharedSessionWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return fmt.Errorf("decoding shared session: %w", err)
	}

	c.session.Set(wire.CPCookie, wire.SSOUserID, wire.Authenticated)

	u, err := url.Parse(c.baseURL)
	if err != nil {
		return err
	}
	c.jar.SetCookies(u, []*http.Cookie{{Name: "cp", Value: wire.CPCookie}})
	return nil
}

func sessionCipher(secret string) (cipher.AEAD, error) {
	key := sha256.Sum256([]byte(secret))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func encryptSession(secret string, plaintext []byte) ([]byte, error) {
	gcm, err := sessionCipher(secret)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func decryptSession(secret string, ciphertext []byte) ([]byte, error) {
	gcm, err := sessionCipher(secret)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, body := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	return gcm.Open(nil, nonce, body, nil)
}
