// Package fingerprint computes the deterministic cache keys the
// pipeline runner uses to decide whether a stage must execute.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// stageDigest is the canonical input to a stage fingerprint. JSON
// encoding sorts map keys, so identical inputs always serialize to
// identical bytes.
type stageDigest struct {
	Stage       string            `json:"stage"`
	CodeVersion string            `json:"code_version"`
	Upstream    []string          `json:"upstream"`
	Params      map[string]string `json:"params"`
}

// Stage hashes a stage identifier, its work function version tag, the
// fingerprints of every upstream output in resolved order, and the
// values of the stage's declared parameter keys. Identical inputs
// always yield the identical fingerprint.
func Stage(stageID, codeVersion string, upstream []string, params map[string]string) (string, error) {
	if upstream == nil {
		upstream = []string{}
	}
	if params == nil {
		params = map[string]string{}
	}
	raw, err := json.Marshal(stageDigest{
		Stage:       stageID,
		CodeVersion: codeVersion,
		Upstream:    upstream,
		Params:      params,
	})
	if err != nil {
		return "", fmt.Errorf("marshal stage digest: %w", err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// Output derives the fingerprint of one named output from its stage's
// fingerprint, so a single execution binds several addressable
// artifacts.
func Output(stageFingerprint, output string) string {
	sum := sha256.Sum256([]byte(stageFingerprint + "/" + output))
	return hex.EncodeToString(sum[:])
}

// Content hashes a payload. Used by the artifact store to detect
// fingerprint collisions and by run summaries to self-address.
func Content(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
