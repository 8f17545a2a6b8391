package paramstore

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/require"
)

// fakeSSM serves parameters from a map and captures every input.
type fakeSSM struct {
	values map[string]string
	inputs []*ssm.GetParametersInput
	err    error
}

func (f *fakeSSM) GetParameters(_ context.Context, in *ssm.GetParametersInput, _ ...func(*ssm.Options)) (*ssm.GetParametersOutput, error) {
	f.inputs = append(f.inputs, in)
	if f.err != nil {
		return nil, f.err
	}
	out := &ssm.GetParametersOutput{}
	for _, n := range in.Names {
		if v, ok := f.values[n]; ok {
			out.Parameters = append(out.Parameters, types.Parameter{Name: aws.String(n), Value: aws.String(v), Type: types.ParameterTypeSecureString})
		} else {
			out.InvalidParameters = append(out.InvalidParameters, n)
		}
	}
	return out, nil
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, "/x")
	require.ErrorContains(t, err, "must not be nil")
	_, err = New(&fakeSSM{}, "  ")
	require.ErrorContains(t, err, "prefix is required")

	r, err := New(&fakeSSM{}, "adsmanager/prod/")
	require.NoError(t, err)
	require.Equal(t, "/adsmanager/prod/ACCESS_TOKEN", r.Name("ACCESS_TOKEN"))
}

func TestFill_OnlyEmptyTargets(t *testing.T) {
	api := &fakeSSM{values: map[string]string{
		"/app/ACCESS_TOKEN":   "from-ssm",
		"/app/OPENAI_API_KEY": "sk-ssm",
	}}
	r, err := New(api, "/app")
	require.NoError(t, err)

	access, openai, verify := "", "sk-env", ""
	filled, err := r.Fill(context.Background(), map[string]*string{
		"ACCESS_TOKEN":   &access,
		"OPENAI_API_KEY": &openai,
		"VERIFY_TOKEN":   &verify,
	})
	require.NoError(t, err)
	require.Equal(t, []string{"ACCESS_TOKEN"}, filled)
	require.Equal(t, "from-ssm", access)
	require.Equal(t, "sk-env", openai, "values set in the environment win")
	require.Empty(t, verify)

	require.Len(t, api.inputs, 1)
	require.True(t, aws.ToBool(api.inputs[0].WithDecryption))
	require.ElementsMatch(t, []string{"/app/ACCESS_TOKEN", "/app/VERIFY_TOKEN"}, api.inputs[0].Names)
}

func TestFill_NothingToDo(t *testing.T) {
	api := &fakeSSM{}
	r, err := New(api, "/app")
	require.NoError(t, err)
	v := "set"
	filled, err := r.Fill(context.Background(), map[string]*string{"A": &v})
	require.NoError(t, err)
	require.Empty(t, filled)
	require.Empty(t, api.inputs)
}

func TestLookup_Batches(t *testing.T) {
	api := &fakeSSM{values: map[string]string{}}
	keys := make([]string, 23)
	for i := range keys {
		keys[i] = fmt.Sprintf("K%02d", i)
		api.values["/app/"+keys[i]] = "v"
	}
	r, err := New(api, "/app")
	require.NoError(t, err)

	got, err := r.Lookup(context.Background(), keys...)
	require.NoError(t, err)
	require.Len(t, got, 23)
	require.Len(t, api.inputs, 3)
	require.Len(t, api.inputs[2].Names, 3)
}

func TestLookup_APIError(t *testing.T) {
	r, err := New(&fakeSSM{err: errors.New("boom")}, "/app")
	require.NoError(t, err)
	_, err = r.Lookup(context.Background(), "A")
	require.ErrorContains(t, err, "boom")
}
