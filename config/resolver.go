package config

// Resolver answers typed optional configuration lookups. It replaces
// reflective property access with an explicit fallback chain: a direct
// value, then a derived (inherited) value, then a global default. A lookup
// that no stage can answer reports found=false; absence is not an error.
type Resolver interface {
	StringValue(name string) (value string, found bool)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(name string) (string, bool)

func (f ResolverFunc) StringValue(name string) (string, bool) {
	return f(name)
}

// ChainResolver consults each stage in order and returns the first answer.
type ChainResolver []Resolver

// Chain builds a resolver from ordered stages. Nil stages are skipped.
func Chain(stages ...Resolver) ChainResolver {
	chain := make(ChainResolver, 0, len(stages))
	for _, s := range stages {
		if s != nil {
			chain = append(chain, s)
		}
	}
	return chain
}

func (c ChainResolver) StringValue(name string) (string, bool) {
	for _, stage := range c {
		if v, ok := stage.StringValue(name); ok {
			return v, true
		}
	}
	return "", false
}

// MapResolver answers lookups from a fixed map, treating empty values as
// absent.
type MapResolver map[string]string

func (m MapResolver) StringValue(name string) (string, bool) {
	v, ok := m[name]
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// Well-known resolver lookup names.
const (
	KeyClientID      = "clientId"
	KeyClientSecret  = "clientSecret"
	KeyScope         = "scope"
	KeyTokenURL      = "tokenUrl"
	KeyAuthorityURL  = "authorityUrl"
	KeyDeviceAuthURL = "deviceAuthUrl"
)

// ClientResolver exposes the client configuration section as a Resolver,
// usable as the terminal stage of a chain.
func (c ClientConfig) ClientResolver() Resolver {
	return MapResolver{
		KeyClientID:     c.ID,
		KeyClientSecret: c.Secret,
		KeyScope:        c.Scope,
	}
}

// AuthorityResolver exposes the authority configuration section as a
// Resolver.
func (c AuthorityConfig) AuthorityResolver() Resolver {
	return MapResolver{
		KeyTokenURL:      c.TokenURL,
		KeyAuthorityURL:  c.AuthorityURL,
		KeyDeviceAuthURL: c.DeviceAuthURL,
	}
}
