package adapter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const bioDev = "bio_192_168_1_201"

func TestBiometricEnrollAndAuthenticate(t *testing.T) {
	b := NewBiometricAdapter()
	template := []byte("fingerprint-template-alice")

	require.NoError(t, b.Enroll(bioDev, "alice", "Alice", template))

	res, err := b.Authenticate(bioDev, "alice", template)
	require.NoError(t, err)
	assert.True(t, res.Matched)
	assert.Equal(t, "alice", res.UserID)
	assert.Equal(t, 1.0, res.Confidence, "identical templates score 1.0")
}

func TestBiometricAuthenticateDegradedProbe(t *testing.T) {
	b := NewBiometricAdapter()
	require.NoError(t, b.Enroll(bioDev, "alice", "Alice", []byte("aaaaaaaaaa")))

	res, err := b.Authenticate(bioDev, "alice", []byte("aaaaabbbbb"))
	require.NoError(t, err)
	assert.InDelta(t, 0.5, res.Confidence, 0.01)
}

func TestBiometricAuthenticateUnknownUser(t *testing.T) {
	b := NewBiometricAdapter()
	require.NoError(t, b.Enroll(bioDev, "alice", "Alice", []byte("x")))

	_, err := b.Authenticate(bioDev, "bob", []byte("x"))
	assert.Error(t, err)
}

func TestBiometricIdentifyPicksBestMatch(t *testing.T) {
	b := NewBiometricAdapter()
	require.NoError(t, b.Enroll(bioDev, "alice", "Alice", []byte("aaaaaaaa")))
	require.NoError(t, b.Enroll(bioDev, "bob", "Bob", []byte("bbbbbbbb")))

	res, err := b.Identify(bioDev, []byte("aaaaaaab"))
	require.NoError(t, err)
	assert.True(t, res.Matched)
	assert.Equal(t, "alice", res.UserID)
	assert.Greater(t, res.Confidence, 0.7)
}

func TestBiometricIdentifyNoEnrollments(t *testing.T) {
	b := NewBiometricAdapter()
	require.NoError(t, b.Open(bioDev, nil))

	res, err := b.Identify(bioDev, []byte("probe"))
	require.NoError(t, err)
	assert.False(t, res.Matched)
	assert.Zero(t, res.Confidence)
}

func TestBiometricUsersStripTemplates(t *testing.T) {
	b := NewBiometricAdapter()
	require.NoError(t, b.Enroll(bioDev, "bob", "Bob", []byte("secret-template")))
	require.NoError(t, b.Enroll(bioDev, "alice", "Alice", []byte("secret-template")))

	users, err := b.Users(bioDev)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "alice", users[0].UserID, "ordered by user id")
	for _, u := range users {
		assert.Nil(t, u.Template)
		assert.False(t, u.EnrolledAt.IsZero())
	}
}

func TestBiometricDeleteUser(t *testing.T) {
	b := NewBiometricAdapter()
	require.NoError(t, b.Enroll(bioDev, "alice", "Alice", []byte("t")))

	deleted, err := b.DeleteUser(bioDev, "alice")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = b.DeleteUser(bioDev, "alice")
	require.NoError(t, err)
	assert.False(t, deleted, "second delete reports nothing removed")

	users, err := b.Users(bioDev)
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestBiometricEnrollValidation(t *testing.T) {
	b := NewBiometricAdapter()
	assert.Error(t, b.Enroll(bioDev, "", "Alice", []byte("t")))
	assert.Error(t, b.Enroll(bioDev, "alice", "Alice", nil))
}

func TestBiometricSessionLifecycle(t *testing.T) {
	b := NewBiometricAdapter()

	require.NoError(t, b.Open(bioDev, nil))
	assert.True(t, b.IsOpen(bioDev))
	assert.ErrorIs(t, b.Open(bioDev, nil), ErrAlreadyOpen)

	require.NoError(t, b.Enroll(bioDev, "alice", "Alice", []byte("t")))
	require.NoError(t, b.Close(bioDev))
	assert.False(t, b.IsOpen(bioDev))

	// Enrollments survive session close.
	users, err := b.Users(bioDev)
	require.NoError(t, err)
	assert.Len(t, users, 1)

	status, err := b.Status(bioDev)
	require.NoError(t, err)
	assert.Equal(t, false, status["is_open"])
	assert.Equal(t, 1, status["user_count"])
}

func TestBiometricDiscoverIsEmpty(t *testing.T) {
	b := NewBiometricAdapter()
	devices, err := b.Discover(context.Background())
	require.NoError(t, err)
	assert.Empty(t, devices)
}

func TestTemplateSimilarityBounds(t *testing.T) {
	assert.Zero(t, templateSimilarity(nil, []byte("x")))
	assert.Zero(t, templateSimilarity([]byte("x"), nil))
	assert.Equal(t, 1.0, templateSimilarity([]byte("abc"), []byte("abc")))
	assert.Zero(t, templateSimilarity([]byte("aaa"), []byte("bbb")))

	// Length mismatch penalizes confidence.
	c := templateSimilarity([]byte("aaaa"), []byte("aaaaaaaa"))
	assert.InDelta(t, 0.5, c, 0.001)
}
