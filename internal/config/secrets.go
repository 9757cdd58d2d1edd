package config

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/veriguard/auth-service/internal/util/logger"
)

const (
	secretRefPrefix = "aws-sm://"
	ssmRefPrefix    = "aws-ssm://"
)

// SecretsManagerClient is the minimal AWS Secrets Manager surface used here.
type SecretsManagerClient interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// SSMClient is the minimal AWS SSM Parameter Store surface used here.
type SSMClient interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// SecretResolver replaces aws-sm:// and aws-ssm:// references in string
// config fields with values fetched from AWS. Fields without a reference
// prefix pass through untouched, so local and test configs never touch AWS.
type SecretResolver struct {
	secrets SecretsManagerClient
	params  SSMClient
}

// NewSecretResolver builds a resolver from the default AWS config chain.
func NewSecretResolver(ctx context.Context) (*SecretResolver, error) {
	awsCfg, err := awscfg.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return &SecretResolver{
		secrets: secretsmanager.NewFromConfig(awsCfg),
		params:  ssm.NewFromConfig(awsCfg),
	}, nil
}

// NewSecretResolverWithClients wires explicit clients. Test hook.
func NewSecretResolverWithClients(secrets SecretsManagerClient, params SSMClient) *SecretResolver {
	return &SecretResolver{secrets: secrets, params: params}
}

// Resolve walks the config and rewrites every referenced string field.
// An unresolvable reference aborts startup rather than running with a
// placeholder credential.
func (r *SecretResolver) Resolve(ctx context.Context, cfg *Config) error {
	return r.resolveValue(ctx, reflect.ValueOf(cfg).Elem())
}

func (r *SecretResolver) resolveValue(ctx context.Context, v reflect.Value) error {
	switch v.Kind() {
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			if err := r.resolveValue(ctx, v.Field(i)); err != nil {
				return err
			}
		}
	case reflect.Slice:
		if v.Type().Elem().Kind() == reflect.String {
			for i := 0; i < v.Len(); i++ {
				if err := r.resolveValue(ctx, v.Index(i)); err != nil {
					return err
				}
			}
		}
	case reflect.String:
		if !v.CanSet() {
			return nil
		}
		resolved, err := r.resolveString(ctx, v.String())
		if err != nil {
			return err
		}
		v.SetString(resolved)
	}
	return nil
}

func (r *SecretResolver) resolveString(ctx context.Context, s string) (string, error) {
	switch {
	case strings.HasPrefix(s, secretRefPrefix):
		name := strings.TrimPrefix(s, secretRefPrefix)
		logger.Infof("Resolving secret reference %s", name)
		out, err := r.secrets.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
			SecretId: aws.String(name),
		})
		if err != nil {
			return "", fmt.Errorf("get secret %s: %w", name, err)
		}
		if out.SecretString == nil {
			return "", fmt.Errorf("secret %s has no string value", name)
		}
		return *out.SecretString, nil

	case strings.HasPrefix(s, ssmRefPrefix):
		name := strings.TrimPrefix(s, ssmRefPrefix)
		logger.Infof("Resolving SSM parameter %s", name)
		out, err := r.params.GetParameter(ctx, &ssm.GetParameterInput{
			Name:           aws.String(name),
			WithDecryption: aws.Bool(true),
		})
		if err != nil {
			return "", fmt.Errorf("get parameter %s: %w", name, err)
		}
		if out.Parameter == nil || out.Parameter.Value == nil {
			return "", fmt.Errorf("parameter %s has no value", name)
		}
		return *out.Parameter.Value, nil
	}
	return s, nil
}
