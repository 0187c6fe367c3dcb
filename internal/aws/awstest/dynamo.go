// Package awstest provides in-memory fakes of the AWS APIs declared in internal/aws.
//
// FakeDynamo understands just enough of the expression language for the stores in this
// repository: SET updates of plain or #named attributes, equality conditions,
// attribute_exists/attribute_not_exists joined with AND, and single-attribute key conditions
// on queries (indexes are answered by scanning the base table).
package awstest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type item = map[string]types.AttributeValue

// FakeDynamo is a goroutine-safe in-memory DynamoDB.
type FakeDynamo struct {
	mu     sync.Mutex
	keys   map[string]string          // table -> partition key attribute
	tables map[string]map[string]item // table -> pk value -> item
	fail   map[string]error
	calls  map[string]int

	// QueryPageSize, when > 0, splits Query results into pages of this size.
	QueryPageSize int
}

// NewFakeDynamo returns an empty fake with no tables.
func NewFakeDynamo() *FakeDynamo {
	return &FakeDynamo{
		keys:   map[string]string{},
		tables: map[string]map[string]item{},
		fail:   map[string]error{},
		calls:  map[string]int{},
	}
}

// CreateTable registers a table and its partition key attribute name.
func (f *FakeDynamo) CreateTable(name, partitionKey string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys[name] = partitionKey
	if _, ok := f.tables[name]; !ok {
		f.tables[name] = map[string]item{}
	}
}

// FailNext makes the next call of op (e.g. "PutItem") return err.
func (f *FakeDynamo) FailNext(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[op] = err
}

// Calls returns how many times op was invoked.
func (f *FakeDynamo) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// Item returns a copy of the stored item, or nil.
func (f *FakeDynamo) Item(table, pk string) map[string]types.AttributeValue {
	f.mu.Lock()
	defer f.mu.Unlock()
	it, ok := f.tables[table][pk]
	if !ok {
		return nil
	}
	return copyItem(it)
}

// Seed stores an item as-is, bypassing conditions.
func (f *FakeDynamo) Seed(table string, it map[string]types.AttributeValue) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pk, err := f.pkOf(table, it)
	if err != nil {
		panic(err)
	}
	f.tables[table][pk] = copyItem(it)
}

// Len returns the number of items in a table.
func (f *FakeDynamo) Len(table string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tables[table])
}

func (f *FakeDynamo) enter(op string) error {
	f.calls[op]++
	if err, ok := f.fail[op]; ok {
		delete(f.fail, op)
		return err
	}
	return nil
}

func (f *FakeDynamo) PutItem(ctx context.Context, params *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("PutItem"); err != nil {
		return nil, err
	}
	table := sdkaws.ToString(params.TableName)
	pk, err := f.pkOf(table, params.Item)
	if err != nil {
		return nil, err
	}
	current := f.tables[table][pk]
	ok, err := evalCondition(params.ConditionExpression, current, params.ExpressionAttributeNames, params.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, conditionalFailed()
	}
	f.tables[table][pk] = copyItem(params.Item)
	return &dyn.PutItemOutput{}, nil
}

func (f *FakeDynamo) GetItem(ctx context.Context, params *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("GetItem"); err != nil {
		return nil, err
	}
	table := sdkaws.ToString(params.TableName)
	pk, err := f.pkOf(table, params.Key)
	if err != nil {
		return nil, err
	}
	it, ok := f.tables[table][pk]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: copyItem(it)}, nil
}

func (f *FakeDynamo) UpdateItem(ctx context.Context, params *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("UpdateItem"); err != nil {
		return nil, err
	}
	table := sdkaws.ToString(params.TableName)
	pk, err := f.pkOf(table, params.Key)
	if err != nil {
		return nil, err
	}
	current := f.tables[table][pk]
	ok, err := evalCondition(params.ConditionExpression, current, params.ExpressionAttributeNames, params.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, conditionalFailed()
	}

	next := copyItem(current)
	if next == nil {
		next = copyItem(params.Key)
	}
	if err := applySet(sdkaws.ToString(params.UpdateExpression), next, params.ExpressionAttributeNames, params.ExpressionAttributeValues); err != nil {
		return nil, err
	}
	f.tables[table][pk] = next
	return &dyn.UpdateItemOutput{Attributes: copyItem(next)}, nil
}

func (f *FakeDynamo) DeleteItem(ctx context.Context, params *dyn.DeleteItemInput, optFns ...func(*dyn.Options)) (*dyn.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("DeleteItem"); err != nil {
		return nil, err
	}
	table := sdkaws.ToString(params.TableName)
	pk, err := f.pkOf(table, params.Key)
	if err != nil {
		return nil, err
	}
	ok, err := evalCondition(params.ConditionExpression, f.tables[table][pk], params.ExpressionAttributeNames, params.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, conditionalFailed()
	}
	delete(f.tables[table], pk)
	return &dyn.DeleteItemOutput{}, nil
}

func (f *FakeDynamo) Query(ctx context.Context, params *dyn.QueryInput, optFns ...func(*dyn.Options)) (*dyn.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("Query"); err != nil {
		return nil, err
	}
	table := sdkaws.ToString(params.TableName)
	rows, ok := f.tables[table]
	if !ok {
		return nil, &types.ResourceNotFoundException{Message: sdkaws.String("table not found: " + table)}
	}
	attr, val, err := parseEquality(sdkaws.ToString(params.KeyConditionExpression), params.ExpressionAttributeNames, params.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}

	pks := make([]string, 0, len(rows))
	for pk := range rows {
		pks = append(pks, pk)
	}
	sort.Strings(pks)

	pkName := f.keys[table]
	start := ""
	if params.ExclusiveStartKey != nil {
		if s, ok := params.ExclusiveStartKey[pkName].(*types.AttributeValueMemberS); ok {
			start = s.Value
		}
	}

	out := &dyn.QueryOutput{}
	for _, pk := range pks {
		if start != "" && pk <= start {
			continue
		}
		it := rows[pk]
		if !attrEqual(it[attr], val) {
			continue
		}
		out.Items = append(out.Items, copyItem(it))
		if f.QueryPageSize > 0 && len(out.Items) == f.QueryPageSize {
			out.LastEvaluatedKey = map[string]types.AttributeValue{pkName: &types.AttributeValueMemberS{Value: pk}}
			break
		}
	}
	out.Count = int32(len(out.Items))
	return out, nil
}

func (f *FakeDynamo) TransactWriteItems(ctx context.Context, params *dyn.TransactWriteItemsInput, optFns ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("TransactWriteItems"); err != nil {
		return nil, err
	}

	type write struct {
		table, pk string
		put       item
	}
	writes := make([]write, 0, len(params.TransactItems))
	reasons := make([]types.CancellationReason, len(params.TransactItems))
	canceled := false

	for i, ti := range params.TransactItems {
		switch {
		case ti.Put != nil:
			table := sdkaws.ToString(ti.Put.TableName)
			pk, err := f.pkOf(table, ti.Put.Item)
			if err != nil {
				return nil, err
			}
			ok, err := evalCondition(ti.Put.ConditionExpression, f.tables[table][pk], ti.Put.ExpressionAttributeNames, ti.Put.ExpressionAttributeValues)
			if err != nil {
				return nil, err
			}
			if !ok {
				canceled = true
				reasons[i] = types.CancellationReason{Code: sdkaws.String("ConditionalCheckFailed")}
			}
			writes = append(writes, write{table: table, pk: pk, put: ti.Put.Item})
		case ti.Delete != nil:
			table := sdkaws.ToString(ti.Delete.TableName)
			pk, err := f.pkOf(table, ti.Delete.Key)
			if err != nil {
				return nil, err
			}
			ok, err := evalCondition(ti.Delete.ConditionExpression, f.tables[table][pk], ti.Delete.ExpressionAttributeNames, ti.Delete.ExpressionAttributeValues)
			if err != nil {
				return nil, err
			}
			if !ok {
				canceled = true
				reasons[i] = types.CancellationReason{Code: sdkaws.String("ConditionalCheckFailed")}
			}
			writes = append(writes, write{table: table, pk: pk})
		default:
			return nil, errors.New("awstest: only Put and Delete are supported in transactions")
		}
	}
	if canceled {
		return nil, &types.TransactionCanceledException{
			Message:             sdkaws.String("Transaction cancelled, please refer cancellation reasons for specific reasons"),
			CancellationReasons: reasons,
		}
	}
	for _, w := range writes {
		if w.put == nil {
			delete(f.tables[w.table], w.pk)
			continue
		}
		f.tables[w.table][w.pk] = copyItem(w.put)
	}
	return &dyn.TransactWriteItemsOutput{}, nil
}

func (f *FakeDynamo) pkOf(table string, it item) (string, error) {
	name, ok := f.keys[table]
	if !ok {
		return "", &types.ResourceNotFoundException{Message: sdkaws.String("table not found: " + table)}
	}
	v, ok := it[name].(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("awstest: missing string key %q for table %s", name, table)
	}
	return v.Value, nil
}

func conditionalFailed() error {
	return &types.ConditionalCheckFailedException{Message: sdkaws.String("The conditional request failed")}
}

func evalCondition(expr *string, current item, names map[string]string, values map[string]types.AttributeValue) (bool, error) {
	if expr == nil || strings.TrimSpace(*expr) == "" {
		return true, nil
	}
	for _, clause := range strings.Split(*expr, " AND ") {
		clause = strings.TrimSpace(clause)
		switch {
		case strings.HasPrefix(clause, "attribute_not_exists(") && strings.HasSuffix(clause, ")"):
			attr := resolveName(clause[len("attribute_not_exists("):len(clause)-1], names)
			if current != nil {
				if _, ok := current[attr]; ok {
					return false, nil
				}
			}
		case strings.HasPrefix(clause, "attribute_exists(") && strings.HasSuffix(clause, ")"):
			attr := resolveName(clause[len("attribute_exists("):len(clause)-1], names)
			if current == nil {
				return false, nil
			}
			if _, ok := current[attr]; !ok {
				return false, nil
			}
		default:
			attr, val, err := parseEquality(clause, names, values)
			if err != nil {
				return false, err
			}
			if current == nil || !attrEqual(current[attr], val) {
				return false, nil
			}
		}
	}
	return true, nil
}

func parseEquality(expr string, names map[string]string, values map[string]types.AttributeValue) (string, types.AttributeValue, error) {
	parts := strings.SplitN(expr, "=", 2)
	if len(parts) != 2 {
		return "", nil, fmt.Errorf("awstest: unsupported expression %q", expr)
	}
	attr := resolveName(strings.TrimSpace(parts[0]), names)
	placeholder := strings.TrimSpace(parts[1])
	val, ok := values[placeholder]
	if !ok {
		return "", nil, fmt.Errorf("awstest: missing value for %s", placeholder)
	}
	return attr, val, nil
}

func applySet(expr string, target item, names map[string]string, values map[string]types.AttributeValue) error {
	expr = strings.TrimSpace(expr)
	if !strings.HasPrefix(expr, "SET ") {
		return fmt.Errorf("awstest: unsupported update expression %q", expr)
	}
	for _, assignment := range strings.Split(expr[len("SET "):], ",") {
		attr, val, err := parseEquality(assignment, names, values)
		if err != nil {
			return err
		}
		target[attr] = val
	}
	return nil
}

func resolveName(token string, names map[string]string) string {
	if strings.HasPrefix(token, "#") {
		if n, ok := names[token]; ok {
			return n
		}
	}
	return token
}

func attrEqual(a, b types.AttributeValue) bool {
	switch av := a.(type) {
	case *types.AttributeValueMemberS:
		bv, ok := b.(*types.AttributeValueMemberS)
		return ok && av.Value == bv.Value
	case *types.AttributeValueMemberN:
		bv, ok := b.(*types.AttributeValueMemberN)
		return ok && av.Value == bv.Value
	case *types.AttributeValueMemberBOOL:
		bv, ok := b.(*types.AttributeValueMemberBOOL)
		return ok && av.Value == bv.Value
	default:
		return false
	}
}

func copyItem(it item) item {
	if it == nil {
		return nil
	}
	out := make(item, len(it))
	for k, v := range it {
		out[k] = v
	}
	return out
}
