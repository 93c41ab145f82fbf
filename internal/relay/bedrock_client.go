package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

type bedrockConverseAPI interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// BedrockCompleter implements Completer using the Bedrock Converse API.
type BedrockCompleter struct {
	api     bedrockConverseAPI
	modelID string
}

func NewBedrockCompleter(api bedrockConverseAPI, modelID string) (*BedrockCompleter, error) {
	if api == nil {
		panic("relay: bedrock converse client cannot be nil")
	}
	if strings.TrimSpace(modelID) == "" {
		return nil, errors.New("relay: bedrock model id is required")
	}
	return &BedrockCompleter{api: api, modelID: modelID}, nil
}

func (c *BedrockCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	out, err := c.api.Converse(ctx, &bedrockruntime.ConverseInput{
		ModelId: aws.String(c.modelID),
		Messages: []brtypes.Message{{
			Role: brtypes.ConversationRoleUser,
			Content: []brtypes.ContentBlock{
				&brtypes.ContentBlockMemberText{Value: prompt},
			},
		}},
	})
	if err != nil {
		return "", fmt.Errorf("relay: bedrock completion failed: %w", err)
	}
	return bedrockOutputText(out)
}

func bedrockOutputText(out *bedrockruntime.ConverseOutput) (string, error) {
	if out == nil || out.Output == nil {
		return "", errors.New("relay: bedrock returned no output")
	}
	msg, ok := out.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return "", fmt.Errorf("relay: unexpected bedrock output type %T", out.Output)
	}

	var text strings.Builder
	for _, block := range msg.Value.Content {
		if t, ok := block.(*brtypes.ContentBlockMemberText); ok {
			text.WriteString(t.Value)
		}
	}
	result := strings.TrimSpace(text.String())
	if result == "" {
		return "", fmt.Errorf("relay: bedrock returned no text (stop reason %s)", out.StopReason)
	}
	return result, nil
}
