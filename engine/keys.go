package engine

import (
	"fmt"
	"maps"
	"slices"

	"github.com/acksell/flywheel/model"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// keyString identifies an item by its primary key within one table.
func keyString(meta *model.Metadata, item model.Item) string {
	pk, err := meta.TableDefinition().ExtractPrimaryKey(item)
	if err != nil {
		return fmt.Sprintf("%v", item)
	}
	return fmt.Sprintf("%v|%v", pk.Values.PartitionKey, pk.Values.SortKey)
}

func sortedNames(item map[string]types.AttributeValue) []string {
	return slices.Sorted(maps.Keys(item))
}
