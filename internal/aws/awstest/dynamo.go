// Package awstest holds in-memory stand-ins for the AWS clients used by the
// stores. They understand only the expression shapes this repository issues.
package awstest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type item = map[string]types.AttributeValue

type index struct {
	hash string
	rng  string
}

type table struct {
	key     string
	items   map[string]item
	indexes map[string]index
}

// Interceptor may fail an operation before it touches the table.
// op is one of GetItem, PutItem, UpdateItem, Query, Scan, TransactWriteItems.
type Interceptor func(op, tableName, key string) error

// FakeDynamo is a mutex-guarded, multi-table DynamoDB double.
type FakeDynamo struct {
	mu        sync.Mutex
	tables    map[string]*table
	intercept Interceptor
	calls     map[string]int
}

func NewFakeDynamo() *FakeDynamo {
	return &FakeDynamo{
		tables: map[string]*table{},
		calls:  map[string]int{},
	}
}

// AddTable registers a table keyed by a single string attribute.
func (f *FakeDynamo) AddTable(name, keyAttr string) *FakeDynamo {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tables[name] = &table{key: keyAttr, items: map[string]item{}, indexes: map[string]index{}}
	return f
}

// AddIndex registers a global secondary index on an existing table.
func (f *FakeDynamo) AddIndex(tableName, indexName, hashAttr, rangeAttr string) *FakeDynamo {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.tables[tableName]; ok {
		t.indexes[indexName] = index{hash: hashAttr, rng: rangeAttr}
	}
	return f
}

// Intercept installs a failure hook; nil clears it.
func (f *FakeDynamo) Intercept(fn Interceptor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.intercept = fn
}

// Calls reports how many times op was invoked.
func (f *FakeDynamo) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// Item returns a copy of a stored item, or nil.
func (f *FakeDynamo) Item(tableName, key string) map[string]types.AttributeValue {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tables[tableName]
	if !ok {
		return nil
	}
	it, ok := t.items[key]
	if !ok {
		return nil
	}
	return copyItem(it)
}

// Seed stores an item without conditions.
func (f *FakeDynamo) Seed(tableName string, it map[string]types.AttributeValue) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, err := f.table(tableName)
	if err != nil {
		return err
	}
	k, err := keyOf(t, it)
	if err != nil {
		return err
	}
	t.items[k] = copyItem(it)
	return nil
}

func (f *FakeDynamo) GetItem(ctx context.Context, params *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, err := f.table(*params.TableName)
	if err != nil {
		return nil, err
	}
	k, err := keyOf(t, params.Key)
	if err != nil {
		return nil, err
	}
	if err := f.before(ctx, "GetItem", *params.TableName, k); err != nil {
		return nil, err
	}
	it, ok := t.items[k]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: copyItem(it)}, nil
}

func (f *FakeDynamo) PutItem(ctx context.Context, params *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, err := f.table(*params.TableName)
	if err != nil {
		return nil, err
	}
	k, err := keyOf(t, params.Item)
	if err != nil {
		return nil, err
	}
	if err := f.before(ctx, "PutItem", *params.TableName, k); err != nil {
		return nil, err
	}
	ok, err := evalCondition(params.ConditionExpression, params.ExpressionAttributeNames, params.ExpressionAttributeValues, t.items[k])
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &types.ConditionalCheckFailedException{Message: str("The conditional request failed")}
	}
	t.items[k] = copyItem(params.Item)
	return &dyn.PutItemOutput{}, nil
}

func (f *FakeDynamo) UpdateItem(ctx context.Context, params *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, err := f.table(*params.TableName)
	if err != nil {
		return nil, err
	}
	k, err := keyOf(t, params.Key)
	if err != nil {
		return nil, err
	}
	if err := f.before(ctx, "UpdateItem", *params.TableName, k); err != nil {
		return nil, err
	}
	updated, err := applyUpdate(t, k, params.Key, params.UpdateExpression, params.ConditionExpression, params.ExpressionAttributeNames, params.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}
	t.items[k] = updated
	return &dyn.UpdateItemOutput{Attributes: copyItem(updated)}, nil
}

func (f *FakeDynamo) Query(ctx context.Context, params *dyn.QueryInput, optFns ...func(*dyn.Options)) (*dyn.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, err := f.table(*params.TableName)
	if err != nil {
		return nil, err
	}
	if err := f.before(ctx, "Query", *params.TableName, ""); err != nil {
		return nil, err
	}
	rangeAttr := ""
	if params.IndexName != nil {
		idx, ok := t.indexes[*params.IndexName]
		if !ok {
			return nil, fmt.Errorf("awstest: unknown index %s", *params.IndexName)
		}
		rangeAttr = idx.rng
	}

	var matched []item
	for _, it := range t.items {
		ok, err := evalCondition(params.KeyConditionExpression, params.ExpressionAttributeNames, params.ExpressionAttributeValues, it)
		if err != nil {
			return nil, err
		}
		if ok {
			matched = append(matched, it)
		}
	}
	forward := params.ScanIndexForward == nil || *params.ScanIndexForward
	sort.SliceStable(matched, func(i, j int) bool {
		a, b := sortValue(matched[i][rangeAttr]), sortValue(matched[j][rangeAttr])
		if a == b {
			a, b = stringOf(matched[i][t.key]), stringOf(matched[j][t.key])
		}
		if forward {
			return a < b
		}
		return a > b
	})

	start := 0
	if len(params.ExclusiveStartKey) > 0 {
		startKey := stringOf(params.ExclusiveStartKey[t.key])
		for i, it := range matched {
			if stringOf(it[t.key]) == startKey {
				start = i + 1
				break
			}
		}
	}
	matched = matched[start:]

	out := &dyn.QueryOutput{}
	if params.Limit != nil && int(*params.Limit) < len(matched) {
		matched = matched[:*params.Limit]
		last := matched[len(matched)-1]
		out.LastEvaluatedKey = item{t.key: last[t.key]}
		if rangeAttr != "" {
			out.LastEvaluatedKey[rangeAttr] = last[rangeAttr]
		}
	}
	for _, it := range matched {
		out.Items = append(out.Items, copyItem(it))
	}
	out.Count = int32(len(out.Items))
	return out, nil
}

func (f *FakeDynamo) Scan(ctx context.Context, params *dyn.ScanInput, optFns ...func(*dyn.Options)) (*dyn.ScanOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, err := f.table(*params.TableName)
	if err != nil {
		return nil, err
	}
	if err := f.before(ctx, "Scan", *params.TableName, ""); err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(t.items))
	for k := range t.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := &dyn.ScanOutput{}
	for _, k := range keys {
		ok, err := evalCondition(params.FilterExpression, params.ExpressionAttributeNames, params.ExpressionAttributeValues, t.items[k])
		if err != nil {
			return nil, err
		}
		if ok {
			out.Items = append(out.Items, copyItem(t.items[k]))
		}
	}
	out.Count = int32(len(out.Items))
	return out, nil
}

// TransactWriteItems checks every condition first and applies nothing when any fails.
func (f *FakeDynamo) TransactWriteItems(ctx context.Context, params *dyn.TransactWriteItemsInput, optFns ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.before(ctx, "TransactWriteItems", "", ""); err != nil {
		return nil, err
	}

	type write struct {
		t    *table
		key  string
		next item
	}
	var writes []write
	reasons := make([]types.CancellationReason, len(params.TransactItems))
	canceled := false
	// staged lets a later action observe an earlier one in the same transaction
	staged := map[*table]map[string]item{}
	current := func(t *table, k string) item {
		if m, ok := staged[t]; ok {
			if it, ok := m[k]; ok {
				return it
			}
		}
		return t.items[k]
	}
	stage := func(t *table, k string, it item) {
		if staged[t] == nil {
			staged[t] = map[string]item{}
		}
		staged[t][k] = it
	}

	for i, action := range params.TransactItems {
		reasons[i] = types.CancellationReason{Code: str("None")}
		switch {
		case action.Put != nil:
			p := action.Put
			t, err := f.table(*p.TableName)
			if err != nil {
				return nil, err
			}
			k, err := keyOf(t, p.Item)
			if err != nil {
				return nil, err
			}
			ok, err := evalCondition(p.ConditionExpression, p.ExpressionAttributeNames, p.ExpressionAttributeValues, current(t, k))
			if err != nil {
				return nil, err
			}
			if !ok {
				canceled = true
				reasons[i] = types.CancellationReason{Code: str("ConditionalCheckFailed")}
				continue
			}
			next := copyItem(p.Item)
			stage(t, k, next)
			writes = append(writes, write{t: t, key: k, next: next})
		case action.Update != nil:
			u := action.Update
			t, err := f.table(*u.TableName)
			if err != nil {
				return nil, err
			}
			k, err := keyOf(t, u.Key)
			if err != nil {
				return nil, err
			}
			view := &table{key: t.key, items: map[string]item{}}
			if it := current(t, k); it != nil {
				view.items[k] = it
			}
			next, err := applyUpdate(view, k, u.Key, u.UpdateExpression, u.ConditionExpression, u.ExpressionAttributeNames, u.ExpressionAttributeValues)
			if err != nil {
				var ccf *types.ConditionalCheckFailedException
				if errors.As(err, &ccf) {
					canceled = true
					reasons[i] = types.CancellationReason{Code: str("ConditionalCheckFailed")}
					continue
				}
				return nil, err
			}
			stage(t, k, next)
			writes = append(writes, write{t: t, key: k, next: next})
		case action.ConditionCheck != nil:
			c := action.ConditionCheck
			t, err := f.table(*c.TableName)
			if err != nil {
				return nil, err
			}
			k, err := keyOf(t, c.Key)
			if err != nil {
				return nil, err
			}
			ok, err := evalCondition(c.ConditionExpression, c.ExpressionAttributeNames, c.ExpressionAttributeValues, current(t, k))
			if err != nil {
				return nil, err
			}
			if !ok {
				canceled = true
				reasons[i] = types.CancellationReason{Code: str("ConditionalCheckFailed")}
			}
		default:
			return nil, errors.New("awstest: unsupported transact action")
		}
	}
	if canceled {
		return nil, &types.TransactionCanceledException{
			Message:             str("Transaction cancelled"),
			CancellationReasons: reasons,
		}
	}
	for _, w := range writes {
		w.t.items[w.key] = w.next
	}
	return &dyn.TransactWriteItemsOutput{}, nil
}

func (f *FakeDynamo) table(name string) (*table, error) {
	t, ok := f.tables[name]
	if !ok {
		return nil, &types.ResourceNotFoundException{Message: str("Requested resource not found: " + name)}
	}
	return t, nil
}

func (f *FakeDynamo) before(ctx context.Context, op, tableName, key string) error {
	f.calls[op]++
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.intercept != nil {
		return f.intercept(op, tableName, key)
	}
	return nil
}

func keyOf(t *table, it item) (string, error) {
	v, ok := it[t.key]
	if !ok {
		return "", fmt.Errorf("awstest: missing key attribute %s", t.key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("awstest: key attribute %s must be a string", t.key)
	}
	return s.Value, nil
}

func applyUpdate(t *table, k string, key item, update, condition *string, names map[string]string, values map[string]types.AttributeValue) (item, error) {
	existing := t.items[k]
	ok, err := evalCondition(condition, names, values, existing)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &types.ConditionalCheckFailedException{Message: str("The conditional request failed")}
	}

	next := copyItem(existing)
	if next == nil {
		next = copyItem(key)
	}
	if update == nil {
		return next, nil
	}
	expr := strings.TrimSpace(*update)
	if !strings.HasPrefix(expr, "SET ") {
		return nil, fmt.Errorf("awstest: unsupported update expression %q", expr)
	}
	for _, clause := range splitTopLevel(strings.TrimPrefix(expr, "SET "), ',') {
		lhs, rhs, found := strings.Cut(clause, "=")
		if !found {
			return nil, fmt.Errorf("awstest: malformed SET clause %q", clause)
		}
		attr := resolveName(strings.TrimSpace(lhs), names)
		v, err := evalOperand(strings.TrimSpace(rhs), names, values, next)
		if err != nil {
			return nil, err
		}
		next[attr] = v
	}
	return next, nil
}

// evalOperand handles :v, list_append(a, :v), if_not_exists(a, :v) and "x + :v".
func evalOperand(expr string, names map[string]string, values map[string]types.AttributeValue, it item) (types.AttributeValue, error) {
	if left, right, found := cutTopLevel(expr, '+'); found {
		a, err := evalOperand(strings.TrimSpace(left), names, values, it)
		if err != nil {
			return nil, err
		}
		b, err := evalOperand(strings.TrimSpace(right), names, values, it)
		if err != nil {
			return nil, err
		}
		x, y := numberOf(a), numberOf(b)
		return &types.AttributeValueMemberN{Value: strconv.FormatFloat(x+y, 'f', -1, 64)}, nil
	}
	switch {
	case strings.HasPrefix(expr, ":"):
		v, ok := values[expr]
		if !ok {
			return nil, fmt.Errorf("awstest: missing value %s", expr)
		}
		return v, nil
	case strings.HasPrefix(expr, "list_append("):
		args := splitTopLevel(strings.TrimSuffix(strings.TrimPrefix(expr, "list_append("), ")"), ',')
		if len(args) != 2 {
			return nil, fmt.Errorf("awstest: list_append wants 2 args: %q", expr)
		}
		var out []types.AttributeValue
		for _, arg := range args {
			v, err := evalOperand(strings.TrimSpace(arg), names, values, it)
			if err != nil {
				return nil, err
			}
			if l, ok := v.(*types.AttributeValueMemberL); ok {
				out = append(out, l.Value...)
			}
		}
		return &types.AttributeValueMemberL{Value: out}, nil
	case strings.HasPrefix(expr, "if_not_exists("):
		args := splitTopLevel(strings.TrimSuffix(strings.TrimPrefix(expr, "if_not_exists("), ")"), ',')
		if len(args) != 2 {
			return nil, fmt.Errorf("awstest: if_not_exists wants 2 args: %q", expr)
		}
		attr := resolveName(strings.TrimSpace(args[0]), names)
		if v, ok := it[attr]; ok {
			return v, nil
		}
		return evalOperand(strings.TrimSpace(args[1]), names, values, it)
	default:
		attr := resolveName(expr, names)
		v, ok := it[attr]
		if !ok {
			// list_append over a missing list behaves like an empty list
			return &types.AttributeValueMemberNULL{Value: true}, nil
		}
		return v, nil
	}
}

// evalCondition supports AND/OR chains of attribute_exists, attribute_not_exists,
// "a = :v" and "a <> :v". A nil or empty expression is always true.
func evalCondition(expr *string, names map[string]string, values map[string]types.AttributeValue, it item) (bool, error) {
	if expr == nil || strings.TrimSpace(*expr) == "" {
		return true, nil
	}
	return evalBool(strings.TrimSpace(*expr), names, values, it)
}

func evalBool(expr string, names map[string]string, values map[string]types.AttributeValue, it item) (bool, error) {
	if parts := splitKeyword(expr, " OR "); len(parts) > 1 {
		for _, p := range parts {
			ok, err := evalBool(p, names, values, it)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	}
	if parts := splitKeyword(expr, " AND "); len(parts) > 1 {
		for _, p := range parts {
			ok, err := evalBool(p, names, values, it)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil
	}

	expr = strings.TrimSpace(expr)
	if strings.HasPrefix(expr, "(") && strings.HasSuffix(expr, ")") {
		return evalBool(expr[1:len(expr)-1], names, values, it)
	}
	switch {
	case strings.HasPrefix(expr, "attribute_exists("):
		attr := resolveName(strings.TrimSuffix(strings.TrimPrefix(expr, "attribute_exists("), ")"), names)
		_, ok := it[attr]
		return ok, nil
	case strings.HasPrefix(expr, "attribute_not_exists("):
		attr := resolveName(strings.TrimSuffix(strings.TrimPrefix(expr, "attribute_not_exists("), ")"), names)
		_, ok := it[attr]
		return !ok, nil
	}
	if lhs, rhs, found := strings.Cut(expr, "<>"); found {
		eq, err := compare(lhs, rhs, names, values, it)
		return !eq, err
	}
	if lhs, rhs, found := strings.Cut(expr, "="); found {
		return compare(lhs, rhs, names, values, it)
	}
	return false, fmt.Errorf("awstest: unsupported condition %q", expr)
}

func compare(lhs, rhs string, names map[string]string, values map[string]types.AttributeValue, it item) (bool, error) {
	attr := resolveName(strings.TrimSpace(lhs), names)
	want, ok := values[strings.TrimSpace(rhs)]
	if !ok {
		return false, fmt.Errorf("awstest: missing value %s", strings.TrimSpace(rhs))
	}
	got, ok := it[attr]
	if !ok {
		return false, nil
	}
	return equalValues(got, want), nil
}

func equalValues(a, b types.AttributeValue) bool {
	switch av := a.(type) {
	case *types.AttributeValueMemberS:
		bv, ok := b.(*types.AttributeValueMemberS)
		return ok && av.Value == bv.Value
	case *types.AttributeValueMemberN:
		bv, ok := b.(*types.AttributeValueMemberN)
		return ok && numberOf(av) == numberOf(bv)
	case *types.AttributeValueMemberBOOL:
		bv, ok := b.(*types.AttributeValueMemberBOOL)
		return ok && av.Value == bv.Value
	default:
		return false
	}
}

func resolveName(token string, names map[string]string) string {
	if strings.HasPrefix(token, "#") {
		if n, ok := names[token]; ok {
			return n
		}
	}
	return token
}

func splitKeyword(expr, kw string) []string {
	var parts []string
	depth, last := 0, 0
	for i := 0; i < len(expr); i++ {
		switch expr[i] {
		case '(':
			depth++
		case ')':
			depth--
		}
		if depth == 0 && strings.HasPrefix(expr[i:], kw) {
			parts = append(parts, expr[last:i])
			last = i + len(kw)
			i += len(kw) - 1
		}
	}
	return append(parts, expr[last:])
}

func splitTopLevel(expr string, sep byte) []string {
	var parts []string
	depth, last := 0, 0
	for i := 0; i < len(expr); i++ {
		switch expr[i] {
		case '(':
			depth++
		case ')':
			depth--
		case sep:
			if depth == 0 {
				parts = append(parts, strings.TrimSpace(expr[last:i]))
				last = i + 1
			}
		}
	}
	return append(parts, strings.TrimSpace(expr[last:]))
}

func cutTopLevel(expr string, sep byte) (string, string, bool) {
	depth := 0
	for i := 0; i < len(expr); i++ {
		switch expr[i] {
		case '(':
			depth++
		case ')':
			depth--
		case sep:
			if depth == 0 {
				return expr[:i], expr[i+1:], true
			}
		}
	}
	return expr, "", false
}

func numberOf(v types.AttributeValue) float64 {
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0
	}
	f, _ := strconv.ParseFloat(n.Value, 64)
	return f
}

func stringOf(v types.AttributeValue) string {
	if s, ok := v.(*types.AttributeValueMemberS); ok {
		return s.Value
	}
	return ""
}

// sortValue makes RFC3339 timestamps order chronologically.
func sortValue(v types.AttributeValue) string {
	s := stringOf(v)
	if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return ts.UTC().Format("2006-01-02T15:04:05.000000000Z")
	}
	if n, ok := v.(*types.AttributeValueMemberN); ok {
		return fmt.Sprintf("%030.6f", numberOf(n))
	}
	return s
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

func str(s string) *string { return &s }
