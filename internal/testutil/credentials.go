package testutil

import (
	"context"
	"slices"
	"sync"
)

// StaticCredentials is an in-memory credential registry.
type StaticCredentials struct {
	mu     sync.Mutex
	valid  map[string]bool
	err    error
	purges int
}

// NewStaticCredentials registers the given users with valid credentials.
func NewStaticCredentials(users ...string) *StaticCredentials {
	c := &StaticCredentials{valid: make(map[string]bool)}
	for _, u := range users {
		c.valid[u] = true
	}
	return c
}

// Set registers a user with a valid or unusable credential.
func (c *StaticCredentials) Set(userID string, valid bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.valid[userID] = valid
}

// FailWith makes credential lookups fail.
func (c *StaticCredentials) FailWith(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
}

// Users returns registered users in sorted order.
func (c *StaticCredentials) Users(context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	users := make([]string, 0, len(c.valid))
	for u := range c.valid {
		users = append(users, u)
	}
	slices.Sort(users)
	return users, nil
}

// HasValidCredential reports the registered validity.
func (c *StaticCredentials) HasValidCredential(_ context.Context, userID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return false, c.err
	}
	return c.valid[userID], nil
}

// PurgeAuthStates counts calls and purges nothing.
func (c *StaticCredentials) PurgeAuthStates(context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.purges++
	return 0, nil
}

// Purges returns how many times PurgeAuthStates was called.
func (c *StaticCredentials) Purges() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.purges
}
