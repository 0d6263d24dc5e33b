package content

import (
	"context"
	"encoding/hex"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/keithlinneman/pagesite/internal/cryptoutil"
	"github.com/keithlinneman/pagesite/internal/log"
	"github.com/keithlinneman/pagesite/internal/xerrors"
)

// maxSignatureSize is far above any DER ECDSA or RSA-4096 signature
const maxSignatureSize = 64 << 10

type SSMAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

type S3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// SignatureVerifier checks a detached signature over a whole bundle.
// *cryptoutil.KMSVerifier satisfies it.
type SignatureVerifier interface {
	VerifySignature(ctx context.Context, message, signature []byte) error
}

type LoaderOptions struct {
	Logger log.Logger

	// SSMParam holds the hex SHA-256 of the bundle to serve
	SSMParam string

	// bundles live at s3://{S3Bucket}/{S3Prefix}/{hash}.tar.gz
	S3Bucket string
	S3Prefix string

	// SigningKeyARN, when set, requires {key}.sig next to each bundle,
	// verified with this KMS key's public half
	SigningKeyARN string

	Limits Limits

	// AWSConfig defaults to config.LoadDefaultConfig
	AWSConfig *aws.Config

	// clients built from AWSConfig unless set
	SSMClient SSMAPI
	S3Client  S3API
	Verifier  SignatureVerifier
}

type Loader struct {
	opts     LoaderOptions
	ssm      SSMAPI
	s3       S3API
	verifier SignatureVerifier
	logger   log.Logger
}

func NewLoader(ctx context.Context, opts LoaderOptions) (*Loader, error) {
	if opts.SSMParam == "" {
		return nil, xerrors.New("content loader: SSMParam is required")
	}
	if opts.S3Bucket == "" {
		return nil, xerrors.New("content loader: S3Bucket is required")
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	if opts.Limits == (Limits{}) {
		opts.Limits = DefaultLimits()
	}

	needAWS := opts.SSMClient == nil || opts.S3Client == nil ||
		(opts.SigningKeyARN != "" && opts.Verifier == nil)
	var awsCfg aws.Config
	if needAWS {
		if opts.AWSConfig != nil {
			awsCfg = *opts.AWSConfig
		} else {
			var err error
			awsCfg, err = config.LoadDefaultConfig(ctx)
			if err != nil {
				return nil, xerrors.Wrap(err, "load AWS config")
			}
		}
	}

	l := &Loader{
		opts:     opts,
		ssm:      opts.SSMClient,
		s3:       opts.S3Client,
		verifier: opts.Verifier,
		logger:   opts.Logger.With("component", "content_loader"),
	}
	if l.ssm == nil {
		l.ssm = ssm.NewFromConfig(awsCfg)
	}
	if l.s3 == nil {
		l.s3 = s3.NewFromConfig(awsCfg)
	}
	if l.verifier == nil && opts.SigningKeyARN != "" {
		l.verifier = cryptoutil.NewKMSVerifier(kms.NewFromConfig(awsCfg), opts.SigningKeyARN)
	}
	return l, nil
}

// FetchCurrentBundleHash reads the wanted bundle hash from SSM. A
// "sha256:" prefix is accepted.
func (l *Loader) FetchCurrentBundleHash(ctx context.Context) (string, error) {
	out, err := l.ssm.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(l.opts.SSMParam),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", xerrors.Wrapf(err, "get SSM parameter %s", l.opts.SSMParam)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return "", xerrors.Newf("SSM parameter %s has no value", l.opts.SSMParam)
	}

	hash := strings.ToLower(strings.TrimSpace(*out.Parameter.Value))
	hash = strings.TrimPrefix(hash, "sha256:")
	if b, err := hex.DecodeString(hash); err != nil || len(b) != 32 {
		return "", xerrors.Newf("SSM parameter %s is not a sha256 hex digest: %q", l.opts.SSMParam, hash)
	}
	return hash, nil
}

func (l *Loader) s3Key(hash string) string {
	if p := strings.Trim(l.opts.S3Prefix, "/"); p != "" {
		return p + "/" + hash + ".tar.gz"
	}
	return hash + ".tar.gz"
}

func (l *Loader) getObject(ctx context.Context, key string, max int64) ([]byte, string, error) {
	out, err := l.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(l.opts.S3Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, "", xerrors.Wrapf(err, "get s3://%s/%s", l.opts.S3Bucket, key)
	}
	defer out.Body.Close()

	data, sum, err := readWithHash(out.Body, max)
	if err != nil {
		return nil, "", xerrors.Wrapf(err, "read s3://%s/%s", l.opts.S3Bucket, key)
	}
	return data, sum, nil
}

// Load fetches whatever bundle SSM currently names.
func (l *Loader) Load(ctx context.Context) (*Snapshot, error) {
	hash, err := l.FetchCurrentBundleHash(ctx)
	if err != nil {
		return nil, err
	}
	return l.LoadHash(ctx, hash)
}

// LoadHash downloads, checks and unpacks one bundle.
func (l *Loader) LoadHash(ctx context.Context, hash string) (*Snapshot, error) {
	loadedAt := time.Now().UTC()
	key := l.s3Key(hash)

	l.logger.Info(ctx, "downloading content bundle", "bucket", l.opts.S3Bucket, "key", key)

	data, sum, err := l.getObject(ctx, key, l.opts.Limits.Bundle)
	if err != nil {
		return nil, err
	}
	if !cryptoutil.HashEqual(sum, hash) {
		return nil, xerrors.Newf("bundle %s checksum mismatch: got %s", key, sum)
	}

	signed := false
	if l.verifier != nil {
		sig, _, err := l.getObject(ctx, key+".sig", maxSignatureSize)
		if err != nil {
			return nil, xerrors.Wrap(err, "fetch bundle signature")
		}
		if err := l.verifier.VerifySignature(ctx, data, sig); err != nil {
			return nil, xerrors.Wrapf(err, "verify signature of %s", key)
		}
		signed = true
	}

	fsys, err := extractTarGz(data, l.opts.Limits)
	if err != nil {
		return nil, xerrors.Wrapf(err, "extract %s", key)
	}

	l.logger.Info(ctx, "content bundle ready",
		"hash", truncHash(hash),
		"bytes", len(data),
		"signed", signed,
	)

	return &Snapshot{
		FS: fsys,
		Meta: Meta{
			Version:    truncHash(hash),
			Hash:       hash,
			Signed:     signed,
			Source:     SourceS3,
			VerifiedAt: time.Now().UTC(),
		},
		LoadedAt: loadedAt,
	}, nil
}

// LoadIntoManager makes the current bundle active if it validates.
func (l *Loader) LoadIntoManager(ctx context.Context, mgr *Manager, v ValidationOptions) error {
	snap, err := l.Load(ctx)
	if err != nil {
		return err
	}
	if err := ValidateSnapshot(snap, v); err != nil {
		return err
	}
	mgr.Set(*snap)
	return nil
}
