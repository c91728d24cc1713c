package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

const ssmPrefix = "ssm:"

// ParameterGetter is the subset of the SSM client used to resolve secrets.
type ParameterGetter interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// NeedsSecrets reports whether any secret-bearing field references Parameter Store.
func (c *Config) NeedsSecrets() bool {
	for _, field := range c.secretFields() {
		if strings.HasPrefix(*field, ssmPrefix) {
			return true
		}
	}
	return false
}

// ResolveSecrets replaces every "ssm:<name>" value with the decrypted parameter.
// A nil client is created from the default AWS configuration on first use.
func (c *Config) ResolveSecrets(ctx context.Context, client ParameterGetter) error {
	if !c.NeedsSecrets() {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if client == nil {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return fmt.Errorf("load aws config: %w", err)
		}
		client = ssm.NewFromConfig(awsCfg)
	}

	for _, field := range c.secretFields() {
		if !strings.HasPrefix(*field, ssmPrefix) {
			continue
		}
		name := strings.TrimPrefix(*field, ssmPrefix)
		value, err := getParameterStoreValue(ctx, client, name)
		if err != nil {
			return err
		}
		*field = value
	}
	return nil
}

func (c *Config) secretFields() []*string {
	return []*string{
		&c.Database.DSN,
		&c.Sources.GoldAPI.APIKey,
		&c.Redis.Password,
	}
}

func getParameterStoreValue(ctx context.Context, client ParameterGetter, name string) (string, error) {
	decrypt := true
	result, err := client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &name,
		WithDecryption: &decrypt,
	})
	if err != nil {
		return "", fmt.Errorf("get parameter %s: %w", name, err)
	}
	if result.Parameter == nil || result.Parameter.Value == nil {
		return "", fmt.Errorf("parameter %s has no value", name)
	}
	return *result.Parameter.Value, nil
}
