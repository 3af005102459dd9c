package dynamostore

import (
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/cuemby/sandboxbroker/pkg/sandbox"
)

func marshalItem(s *sandbox.Sandbox) (map[string]types.AttributeValue, error) {
	return attributevalue.MarshalMap(s)
}

func unmarshalItem(item map[string]types.AttributeValue) (*sandbox.Sandbox, error) {
	var s sandbox.Sandbox
	if err := attributevalue.UnmarshalMap(item, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func unmarshalItems(items []map[string]types.AttributeValue) ([]*sandbox.Sandbox, error) {
	out := make([]*sandbox.Sandbox, 0, len(items))
	for _, item := range items {
		s, err := unmarshalItem(item)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}
