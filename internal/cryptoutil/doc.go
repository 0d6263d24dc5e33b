// Package cryptoutil checks content bundles: digest comparison and
// detached signatures made with an AWS KMS asymmetric key.
package cryptoutil
