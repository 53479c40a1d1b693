package flow_test

import (
	"testing"

	"github.com/chinmina/grantwell/discovery"
	"github.com/chinmina/grantwell/internal/testhelpers"
)

// discoveryCache builds a discovery cache talking to the mock server with
// no persistent store.
func discoveryCache(t *testing.T, mock *testhelpers.MockAuthServer) *discovery.Cache {
	t.Helper()
	return discovery.NewCache(mock.Client(), nil, discovery.DefaultPolicy())
}
