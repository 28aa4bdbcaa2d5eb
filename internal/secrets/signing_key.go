// Package secrets resolves the session signing key at startup. In
// production the key ships as a KMS ciphertext and is decrypted once; in
// development it is read directly from the environment.
package secrets

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"go.uber.org/zap"

	"authcore/internal/config"
	"authcore/internal/util"
)

var ErrKeyTooShort = errors.New("session signing key below minimum length")

// KMSDecrypter is the slice of the KMS API the resolver uses.
type KMSDecrypter interface {
	Decrypt(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

// Resolver loads and validates the session signing key.
type Resolver struct {
	cfg    *config.Config
	kms    KMSDecrypter
	logger *zap.Logger
}

func NewResolver(cfg *config.Config, decrypter KMSDecrypter, logger *zap.Logger) *Resolver {
	return &Resolver{cfg: cfg, kms: decrypter, logger: logger}
}

// NewKMSClient builds the real KMS client for the configured region.
func NewKMSClient(ctx context.Context, cfg *config.Config) (*kms.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.KMS.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return kms.NewFromConfig(awsCfg), nil
}

// SigningKey returns the validated key material. Keys shorter than the
// configured minimum fail here, at startup, not at token issuance.
func (r *Resolver) SigningKey(ctx context.Context) ([]byte, error) {
	var key []byte

	if r.cfg.KMS.Enabled {
		ciphertext, err := base64.StdEncoding.DecodeString(r.cfg.KMS.SigningKeyCipher)
		if err != nil {
			return nil, fmt.Errorf("invalid KMS signing key ciphertext: %w", err)
		}

		out, err := r.kms.Decrypt(ctx, &kms.DecryptInput{CiphertextBlob: ciphertext})
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt signing key via KMS: %w", err)
		}
		key = out.Plaintext

		r.logger.Info("Session signing key decrypted via KMS",
			util.String("region", r.cfg.KMS.Region))
	} else {
		key = []byte(r.cfg.Auth.SigningKey)
	}

	if len(key) < config.MinSigningKeyBytes {
		return nil, fmt.Errorf("%w: got %d bytes, need %d",
			ErrKeyTooShort, len(key), config.MinSigningKeyBytes)
	}

	return key, nil
}
