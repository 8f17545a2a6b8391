// Package paramstore fills unset secrets from AWS SSM Parameter Store.
package paramstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// maxNamesPerCall is the GetParameters batch limit.
const maxNamesPerCall = 10

// ssmAPI is the part of *ssm.Client the resolver uses.
type ssmAPI interface {
	GetParameters(ctx context.Context, in *ssm.GetParametersInput, optFns ...func(*ssm.Options)) (*ssm.GetParametersOutput, error)
}

// Resolver reads SecureString parameters stored as <prefix>/<NAME>.
type Resolver struct {
	api    ssmAPI
	prefix string
}

// New creates a resolver. prefix is a parameter path such as "/adsmanager/prod".
func New(api ssmAPI, prefix string) (*Resolver, error) {
	if api == nil {
		return nil, errors.New("paramstore: api must not be nil")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return nil, errors.New("paramstore: prefix is required")
	}
	return &Resolver{api: api, prefix: "/" + strings.Trim(prefix, "/")}, nil
}

// Name returns the full parameter name of key.
func (r *Resolver) Name(key string) string {
	return path.Join(r.prefix, key)
}

// Lookup fetches the given keys and returns the values that exist. Keys
// missing from the store are absent from the result.
func (r *Resolver) Lookup(ctx context.Context, keys ...string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	byName := make(map[string]string, len(keys))
	names := make([]string, 0, len(keys))
	for _, k := range keys {
		n := r.Name(k)
		if _, dup := byName[n]; dup {
			continue
		}
		byName[n] = k
		names = append(names, n)
	}

	for start := 0; start < len(names); start += maxNamesPerCall {
		end := min(start+maxNamesPerCall, len(names))
		resp, err := r.api.GetParameters(ctx, &ssm.GetParametersInput{
			Names:          names[start:end],
			WithDecryption: aws.Bool(true),
		})
		if err != nil {
			return nil, fmt.Errorf("paramstore: get parameters under %s: %w", r.prefix, err)
		}
		for _, p := range resp.Parameters {
			if p.Name == nil || p.Value == nil {
				continue
			}
			if key, ok := byName[*p.Name]; ok {
				out[key] = *p.Value
			}
		}
		if len(resp.InvalidParameters) > 0 {
			slog.Debug("paramstore.Lookup: parameters not found", "names", resp.InvalidParameters)
		}
	}
	return out, nil
}

// Fill resolves every target whose current value is empty. Targets that
// already hold a value are left alone. It returns the keys that were filled.
func (r *Resolver) Fill(ctx context.Context, targets map[string]*string) ([]string, error) {
	var keys []string
	for k, p := range targets {
		if p != nil && *p == "" {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return nil, nil
	}
	sort.Strings(keys)

	values, err := r.Lookup(ctx, keys...)
	if err != nil {
		return nil, err
	}
	var filled []string
	for _, k := range keys {
		if v, ok := values[k]; ok {
			*targets[k] = v
			filled = append(filled, k)
		}
	}
	slog.Info("paramstore.Fill: secrets resolved", "prefix", r.prefix, "filled", filled)
	return filled, nil
}
