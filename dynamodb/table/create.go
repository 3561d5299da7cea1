package table

import (
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// CreateTableInput renders the definition as a CreateTable request.
func (t TableDefinition) CreateTableInput() *dynamodb.CreateTableInput {
	attrs := map[string]KeyKind{}
	var order []string
	addAttr := func(k KeyDef) {
		if k.Name == "" {
			return
		}
		if _, ok := attrs[k.Name]; !ok {
			order = append(order, k.Name)
		}
		attrs[k.Name] = k.Kind
	}
	addAttr(t.KeyDefinitions.PartitionKey)
	addAttr(t.KeyDefinitions.SortKey)
	for _, idx := range t.Indexes() {
		addAttr(idx.KeyDefinitions.PartitionKey)
		addAttr(idx.KeyDefinitions.SortKey)
	}

	tp := t.Throughput.orDefault()
	in := &dynamodb.CreateTableInput{
		TableName: aws.String(t.Name),
		KeySchema: keySchema(t.KeyDefinitions),
		ProvisionedThroughput: &types.ProvisionedThroughput{
			ReadCapacityUnits:  aws.Int64(tp.Read),
			WriteCapacityUnits: aws.Int64(tp.Write),
		},
	}
	for _, name := range order {
		in.AttributeDefinitions = append(in.AttributeDefinitions, types.AttributeDefinition{
			AttributeName: aws.String(name),
			AttributeType: types.ScalarAttributeType(attrs[name]),
		})
	}
	for _, lsi := range t.LSIs {
		in.LocalSecondaryIndexes = append(in.LocalSecondaryIndexes, types.LocalSecondaryIndex{
			IndexName: aws.String(lsi.Name),
			KeySchema: keySchema(PrimaryKeyDefinition{
				PartitionKey: t.KeyDefinitions.PartitionKey,
				SortKey:      lsi.SortKey,
			}),
			Projection: lsi.Projection.ddb(),
		})
	}
	for _, gsi := range t.GSIs {
		gtp := gsi.Throughput.orDefault()
		in.GlobalSecondaryIndexes = append(in.GlobalSecondaryIndexes, types.GlobalSecondaryIndex{
			IndexName:  aws.String(gsi.Name),
			KeySchema:  keySchema(gsi.KeyDefinitions),
			Projection: gsi.Projection.ddb(),
			ProvisionedThroughput: &types.ProvisionedThroughput{
				ReadCapacityUnits:  aws.Int64(gtp.Read),
				WriteCapacityUnits: aws.Int64(gtp.Write),
			},
		})
	}
	return in
}

func keySchema(k PrimaryKeyDefinition) []types.KeySchemaElement {
	out := []types.KeySchemaElement{{
		AttributeName: aws.String(k.PartitionKey.Name),
		KeyType:       types.KeyTypeHash,
	}}
	if k.SortKey.Name != "" {
		out = append(out, types.KeySchemaElement{
			AttributeName: aws.String(k.SortKey.Name),
			KeyType:       types.KeyTypeRange,
		})
	}
	return out
}

// FromCreateTableInput parses a CreateTable request back into a definition.
func FromCreateTableInput(in *dynamodb.CreateTableInput) (TableDefinition, error) {
	if in == nil || in.TableName == nil {
		return TableDefinition{}, errors.New("table name is required")
	}
	kinds := map[string]KeyKind{}
	for _, ad := range in.AttributeDefinitions {
		kinds[aws.ToString(ad.AttributeName)] = KeyKind(ad.AttributeType)
	}
	keys := func(ks []types.KeySchemaElement) (PrimaryKeyDefinition, error) {
		var out PrimaryKeyDefinition
		for _, e := range ks {
			name := aws.ToString(e.AttributeName)
			kind, ok := kinds[name]
			if !ok {
				return out, fmt.Errorf("key attribute %q missing from attribute definitions", name)
			}
			switch e.KeyType {
			case types.KeyTypeHash:
				out.PartitionKey = KeyDef{Name: name, Kind: kind}
			case types.KeyTypeRange:
				out.SortKey = KeyDef{Name: name, Kind: kind}
			}
		}
		return out, nil
	}

	def := TableDefinition{Name: aws.ToString(in.TableName)}
	var err error
	if def.KeyDefinitions, err = keys(in.KeySchema); err != nil {
		return TableDefinition{}, err
	}
	def.Throughput = throughputFromDDB(in.ProvisionedThroughput)
	for _, lsi := range in.LocalSecondaryIndexes {
		k, err := keys(lsi.KeySchema)
		if err != nil {
			return TableDefinition{}, err
		}
		if k.PartitionKey != def.KeyDefinitions.PartitionKey {
			return TableDefinition{}, fmt.Errorf("local index %s must share the table partition key", aws.ToString(lsi.IndexName))
		}
		def.LSIs = append(def.LSIs, LSIDefinition{
			Name:       aws.ToString(lsi.IndexName),
			SortKey:    k.SortKey,
			Projection: projectionFromDDB(lsi.Projection),
		})
	}
	for _, gsi := range in.GlobalSecondaryIndexes {
		k, err := keys(gsi.KeySchema)
		if err != nil {
			return TableDefinition{}, err
		}
		def.GSIs = append(def.GSIs, GSIDefinition{
			Name:           aws.ToString(gsi.IndexName),
			KeyDefinitions: k,
			Projection:     projectionFromDDB(gsi.Projection),
			Throughput:     throughputFromDDB(gsi.ProvisionedThroughput),
		})
	}
	return def, def.Validate()
}

func throughputFromDDB(p *types.ProvisionedThroughput) Throughput {
	if p == nil {
		return Throughput{}
	}
	return Throughput{Read: aws.ToInt64(p.ReadCapacityUnits), Write: aws.ToInt64(p.WriteCapacityUnits)}
}

// Description renders the definition the way DescribeTable reports it.
func (t TableDefinition) Description(itemCount int64, created time.Time) *types.TableDescription {
	in := t.CreateTableInput()
	desc := &types.TableDescription{
		TableName:            in.TableName,
		TableStatus:          types.TableStatusActive,
		KeySchema:            in.KeySchema,
		AttributeDefinitions: in.AttributeDefinitions,
		ItemCount:            aws.Int64(itemCount),
		CreationDateTime:     aws.Time(created),
		TableArn:             aws.String("arn:aws:dynamodb:local:000000000000:table/" + t.Name),
		ProvisionedThroughput: &types.ProvisionedThroughputDescription{
			ReadCapacityUnits:  in.ProvisionedThroughput.ReadCapacityUnits,
			WriteCapacityUnits: in.ProvisionedThroughput.WriteCapacityUnits,
		},
	}
	for _, lsi := range in.LocalSecondaryIndexes {
		desc.LocalSecondaryIndexes = append(desc.LocalSecondaryIndexes, types.LocalSecondaryIndexDescription{
			IndexName:  lsi.IndexName,
			KeySchema:  lsi.KeySchema,
			Projection: lsi.Projection,
		})
	}
	for _, gsi := range in.GlobalSecondaryIndexes {
		desc.GlobalSecondaryIndexes = append(desc.GlobalSecondaryIndexes, types.GlobalSecondaryIndexDescription{
			IndexName:   gsi.IndexName,
			KeySchema:   gsi.KeySchema,
			Projection:  gsi.Projection,
			IndexStatus: types.IndexStatusActive,
			ProvisionedThroughput: &types.ProvisionedThroughputDescription{
				ReadCapacityUnits:  gsi.ProvisionedThroughput.ReadCapacityUnits,
				WriteCapacityUnits: gsi.ProvisionedThroughput.WriteCapacityUnits,
			},
		})
	}
	return desc
}
