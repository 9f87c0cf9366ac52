package appconfig

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
)

type secretValueGetter interface {
	GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// ASMResolver resolves asm://<secret-id> references against AWS Secrets
// Manager. The secret id may be a name or a full ARN. Credentials come from
// the SDK default chain; the client is created on first use.
type ASMResolver struct {
	Region   string
	Endpoint string

	once   sync.Once
	client secretValueGetter
	err    error
}

func (r *ASMResolver) getClient(ctx context.Context) (secretValueGetter, error) {
	r.once.Do(func() {
		if r.client != nil {
			return
		}
		var optFns []func(*awsconfig.LoadOptions) error
		if r.Region != "" {
			optFns = append(optFns, awsconfig.WithRegion(r.Region))
		}
		cfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
		if err != nil {
			r.err = fmt.Errorf("unable to load aws config: %w", err)
			return
		}
		r.client = secretsmanager.NewFromConfig(cfg, func(o *secretsmanager.Options) {
			if r.Endpoint != "" {
				o.BaseEndpoint = aws.String(r.Endpoint)
			}
		})
	})
	return r.client, r.err
}

// Resolve only supports string secrets, not binary secrets.
func (r *ASMResolver) Resolve(ctx context.Context, ref string) (string, error) {
	_, id, _ := strings.Cut(ref, "://")
	id = strings.Trim(id, "/")
	if id == "" {
		return "", fmt.Errorf("%w: expected asm://<secret-id>: %q", ErrBadReference, ref)
	}
	c, err := r.getClient(ctx)
	if err != nil {
		return "", err
	}
	out, err := c.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(id),
	})
	if err != nil {
		var nf *types.ResourceNotFoundException
		if errors.As(err, &nf) {
			return "", fmt.Errorf("aws secret %q: %w", id, ErrNotFound)
		}
		return "", fmt.Errorf("unable to retrieve secret %q: %w", id, err)
	}
	if out.SecretString == nil {
		return "", fmt.Errorf("aws secret %q is not a string", id)
	}
	return *out.SecretString, nil
}
