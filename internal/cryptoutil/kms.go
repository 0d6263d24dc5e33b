package cryptoutil

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	kmstypes "github.com/aws/aws-sdk-go-v2/service/kms/types"

	"github.com/keithlinneman/pagesite/internal/xerrors"
)

// KeyFetcher is the part of *kms.Client the verifier uses.
type KeyFetcher interface {
	GetPublicKey(ctx context.Context, in *kms.GetPublicKeyInput, optFns ...func(*kms.Options)) (*kms.GetPublicKeyOutput, error)
}

// KMSVerifier verifies signatures locally against the public half of a KMS
// key. The key is fetched once and kept.
type KMSVerifier struct {
	client KeyFetcher
	keyID  string

	// AllowPKCS1v15 accepts RSA PKCS#1 v1.5 when PSS fails
	AllowPKCS1v15 bool

	mu  sync.Mutex
	pub crypto.PublicKey
}

func NewKMSVerifier(client KeyFetcher, keyID string) *KMSVerifier {
	return &KMSVerifier{client: client, keyID: keyID}
}

// PublicKey returns the cached key, fetching it on first use. A failed
// fetch is retried on the next call.
func (v *KMSVerifier) PublicKey(ctx context.Context) (crypto.PublicKey, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.pub != nil {
		return v.pub, nil
	}
	if v.client == nil {
		return nil, xerrors.New("kms: no client configured")
	}

	out, err := v.client.GetPublicKey(ctx, &kms.GetPublicKeyInput{KeyId: aws.String(v.keyID)})
	if err != nil {
		return nil, xerrors.Wrapf(err, "kms: get public key %s", v.keyID)
	}
	if out.KeyUsage != kmstypes.KeyUsageTypeSignVerify {
		return nil, xerrors.Newf("kms: key %s has usage %s, want SIGN_VERIFY", v.keyID, out.KeyUsage)
	}
	pub, err := x509.ParsePKIXPublicKey(out.PublicKey)
	if err != nil {
		return nil, xerrors.Wrap(err, "kms: parse public key")
	}
	v.pub = pub
	return pub, nil
}

// VerifySignature checks signature over message. The digest follows the
// key: SHA-384 for P-384, SHA-256 for P-256 and RSA.
func (v *KMSVerifier) VerifySignature(ctx context.Context, message, signature []byte) error {
	if len(signature) == 0 {
		return xerrors.New("kms: empty signature")
	}
	pub, err := v.PublicKey(ctx)
	if err != nil {
		return err
	}

	switch key := pub.(type) {
	case *ecdsa.PublicKey:
		var digest []byte
		switch key.Curve {
		case elliptic.P256():
			d := sha256.Sum256(message)
			digest = d[:]
		case elliptic.P384():
			d := sha512.Sum384(message)
			digest = d[:]
		default:
			return xerrors.Newf("kms: unsupported curve %s", key.Curve.Params().Name)
		}
		if !ecdsa.VerifyASN1(key, digest, signature) {
			return xerrors.Newf("kms: ecdsa %s signature does not match", key.Curve.Params().Name)
		}
		return nil

	case *rsa.PublicKey:
		digest := sha256.Sum256(message)
		err := rsa.VerifyPSS(key, crypto.SHA256, digest[:], signature, nil)
		if err != nil && v.AllowPKCS1v15 {
			err = rsa.VerifyPKCS1v15(key, crypto.SHA256, digest[:], signature)
		}
		if err != nil {
			return xerrors.Wrap(err, "kms: rsa signature does not match")
		}
		return nil

	default:
		return xerrors.Newf("kms: unsupported public key type %T", pub)
	}
}
