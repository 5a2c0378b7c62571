// Copyright 2026 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	. "gopkg.in/check.v1"
)

// Setup GoCheck
type MySuite struct{}

var _ = Suite(&MySuite{})

func Test(t *testing.T) {
	TestingT(t)
}

func lookupFrom(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func (s *MySuite) TestFromLookupDefaults(c *C) {
	cfg, err := FromLookup(lookupFrom(map[string]string{EnvToken: "tok"}))
	c.Assert(err, IsNil)
	c.Check(cfg.Token, Equals, "tok")
	c.Check(cfg.APIURL, Equals, DefaultAPIURL)
	c.Check(cfg.DockerRepo, Equals, DefaultDockerRepo)
	c.Check(cfg.DockerTag, Equals, DefaultDockerTag)
	c.Check(cfg.TaskName, Equals, DefaultTaskName)
	c.Check(cfg.InstanceCount, Equals, 1)
	c.Check(cfg.InputBucket, Equals, "meshroom-in")
	c.Check(cfg.OutputBucket, Equals, "meshroom-out")
	c.Check(cfg.InputDir, Equals, "in")
	c.Check(cfg.OutputDir, Equals, "out")
	c.Check(cfg.PollTimeout, Equals, 10*time.Second)
	c.Check(cfg.SSHPublicKey, Equals, "")
}

func (s *MySuite) TestFromLookupOverrides(c *C) {
	cfg, err := FromLookup(lookupFrom(map[string]string{
		EnvToken:         "tok",
		EnvAPIURL:        "http://localhost:8080/",
		EnvDockerRepo:    "me/meshroom",
		EnvDockerTag:     "dev",
		EnvSSHPublicKey:  "ssh-ed25519 AAAA",
		EnvInstanceCount: "3",
		EnvPollTimeout:   "2s",
	}))
	c.Assert(err, IsNil)
	c.Check(cfg.APIURL, Equals, "http://localhost:8080")
	c.Check(cfg.DockerRepo, Equals, "me/meshroom")
	c.Check(cfg.DockerTag, Equals, "dev")
	c.Check(cfg.SSHPublicKey, Equals, "ssh-ed25519 AAAA")
	c.Check(cfg.InstanceCount, Equals, 3)
	c.Check(cfg.PollTimeout, Equals, 2*time.Second)
}

func (s *MySuite) TestMissingToken(c *C) {
	_, err := FromLookup(lookupFrom(map[string]string{}))
	var missing *MissingTokenError
	c.Assert(errors.As(err, &missing), Equals, true)
	c.Check(missing.Diagnostic(), DeepEquals, []string{
		"ERROR: environment variable QARNOT_TOKEN is not set.",
		"Export QARNOT_TOKEN or create a .env file with QARNOT_TOKEN=value before running.",
	})
}

func (s *MySuite) TestInvalidNumbers(c *C) {
	_, err := FromLookup(lookupFrom(map[string]string{EnvToken: "t", EnvInstanceCount: "zero"}))
	c.Check(err, ErrorMatches, ".*MESHROOM_INSTANCE_COUNT.*")

	_, err = FromLookup(lookupFrom(map[string]string{EnvToken: "t", EnvPollTimeout: "-1s"}))
	c.Check(err, ErrorMatches, ".*MESHROOM_POLL_TIMEOUT.*")
}

func (s *MySuite) TestLoadEnvFileFallback(c *C) {
	dir := c.MkDir()
	envFile := filepath.Join(dir, ".env")
	err := os.WriteFile(envFile, []byte("QARNOT_TOKEN=from-file\nMESHROOM_DOCKER_TAG=file-tag\n"), 0600)
	c.Assert(err, IsNil)

	restore := unsetEnv(EnvToken, EnvDockerTag)
	defer restore()

	cfg, err := Load(envFile)
	c.Assert(err, IsNil)
	c.Check(cfg.Token, Equals, "from-file")
	c.Check(cfg.DockerTag, Equals, "file-tag")
	_, present := os.LookupEnv(EnvToken)
	c.Check(present, Equals, false)
}

func (s *MySuite) TestLoadEnvironmentWins(c *C) {
	dir := c.MkDir()
	envFile := filepath.Join(dir, ".env")
	c.Assert(os.WriteFile(envFile, []byte("QARNOT_TOKEN=from-file\n"), 0600), IsNil)

	restore := unsetEnv(EnvToken)
	defer restore()
	os.Setenv(EnvToken, "from-env")

	cfg, err := Load(envFile)
	c.Assert(err, IsNil)
	c.Check(cfg.Token, Equals, "from-env")
}

func (s *MySuite) TestLoadMissingFile(c *C) {
	restore := unsetEnv(EnvToken)
	defer restore()

	_, err := Load(filepath.Join(c.MkDir(), "absent.env"))
	var missing *MissingTokenError
	c.Check(errors.As(err, &missing), Equals, true)
}

// unsetEnv clears the given variables and returns a function restoring them.
func unsetEnv(keys ...string) func() {
	saved := map[string]*string{}
	for _, k := range keys {
		if v, ok := os.LookupEnv(k); ok {
			v := v
			saved[k] = &v
		} else {
			saved[k] = nil
		}
		os.Unsetenv(k)
	}
	return func() {
		for k, v := range saved {
			if v == nil {
				os.Unsetenv(k)
			} else {
				os.Setenv(k, *v)
			}
		}
	}
}
