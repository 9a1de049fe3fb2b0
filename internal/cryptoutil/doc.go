// Package cryptoutil holds the digest helpers the registry uses to
// fingerprint stored package archives.
package cryptoutil
