package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/kuitang/catmaid-guitest/internal/errs"
)

// Environment variables consumed in remote mode. Values are used verbatim.
const (
	EnvSauceUsername  = "SAUCE_USERNAME"
	EnvSauceAccessKey = "SAUCE_ACCESS_KEY"
	EnvJobNumber      = "TRAVIS_JOB_NUMBER"
	EnvCommit         = "TRAVIS_COMMIT"
	EnvBuildNumber    = "TRAVIS_BUILD_NUMBER"
	EnvTag            = "TRAVIS_GO_VERSION"
)

// Placeholder values Sauce Labs tooling sets when no credentials were provided.
const (
	PlaceholderUsername  = "ur-username"
	PlaceholderAccessKey = "ur-access-key"
)

// LookupFunc has the signature of os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// OSLookup reads the process environment.
var OSLookup LookupFunc = os.LookupEnv

// Credentials identify a Sauce Labs account.
type Credentials struct {
	Username  string
	AccessKey string
}

// RemoteEnv is the CI metadata attached to a remote browser session.
type RemoteEnv struct {
	Credentials
	JobNumber   string
	Commit      string
	BuildNumber string
	Tag         string
}

// ValidCredentials is true iff both values are non-empty and neither is a placeholder.
func ValidCredentials(username, accessKey string) bool {
	if username == "" || accessKey == "" {
		return false
	}
	return username != PlaceholderUsername && accessKey != PlaceholderAccessKey
}

// CredentialsAvailable checks SAUCE_USERNAME and SAUCE_ACCESS_KEY.
func CredentialsAvailable(lookup LookupFunc) bool {
	if lookup == nil {
		lookup = OSLookup
	}
	username, _ := lookup(EnvSauceUsername)
	accessKey, _ := lookup(EnvSauceAccessKey)
	return ValidCredentials(username, accessKey)
}

// LookupRemoteEnv reads every remote-mode variable. The first missing one
// aborts with a NotFound error; CI is expected to provide all of them.
func LookupRemoteEnv(lookup LookupFunc) (RemoteEnv, error) {
	if lookup == nil {
		lookup = OSLookup
	}
	var env RemoteEnv
	fields := []struct {
		key  string
		dest *string
	}{
		{EnvSauceUsername, &env.Username},
		{EnvSauceAccessKey, &env.AccessKey},
		{EnvJobNumber, &env.JobNumber},
		{EnvCommit, &env.Commit},
		{EnvBuildNumber, &env.BuildNumber},
		{EnvTag, &env.Tag},
	}
	for _, f := range fields {
		value, ok := lookup(f.key)
		if !ok {
			return RemoteEnv{}, errs.New(errs.NotFound, fmt.Sprintf("environment variable %s is not set", f.key))
		}
		*f.dest = value
	}
	return env, nil
}

// JobName is the human-readable job title shown by the browser farm.
func (e RemoteEnv) JobName() string {
	return fmt.Sprintf("Job: %s Commit %s", e.JobNumber, e.Commit)
}

// Tags labels the remote job.
func (e RemoteEnv) Tags() []string {
	return []string{e.Tag, "CI"}
}

// MapLookup adapts a map for tests and the CLI.
func MapLookup(m map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := m[strings.TrimSpace(key)]
		return v, ok
	}
}
