package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"chatgraph/application/ports"
	"chatgraph/domain/core/aggregates"
	"chatgraph/domain/core/entities"
	"chatgraph/domain/core/valueobjects"
	pkgerrors "chatgraph/pkg/errors"
)

const (
	maxTransactItems  = 100
	maxBatchGetKeys   = 100
	maxBatchWriteReqs = 25
	maxBatchRetries   = 5
	loadAttempts      = 3
)

// Store implements ports.Store on a single DynamoDB table
type Store struct {
	client    API
	tableName string
	logger    *zap.Logger
	outbox    bool
	clock     func() time.Time
}

// Option configures a Store
type Option func(*Store)

// WithOutbox makes every commit also write its domain events as pending
// outbox records in the same transaction.
func WithOutbox() Option {
	return func(s *Store) { s.outbox = true }
}

// NewStore creates a DynamoDB-backed store
func NewStore(client API, tableName string, logger *zap.Logger, opts ...Option) *Store {
	s := &Store{
		client:    client,
		tableName: tableName,
		logger:    logger,
		clock:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ ports.Store = (*Store)(nil)

// Ping checks the table is reachable
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(s.tableName)})
	if err != nil {
		return pkgerrors.NewDatabaseError("Ping", err)
	}
	return nil
}

// ----- Chats -----

// CreateChat writes the META item of a new chat. A chat placed in a project
// is written in a transaction that also checks the project still exists.
func (s *Store) CreateChat(ctx context.Context, chat *entities.Chat) error {
	av, err := attributevalue.MarshalMap(newChatItem(chat))
	if err != nil {
		return pkgerrors.NewInternalError("failed to marshal chat").WithCause(err)
	}
	expr, err := expression.NewBuilder().
		WithCondition(expression.AttributeNotExists(expression.Name("PK"))).
		Build()
	if err != nil {
		return pkgerrors.NewInternalError("failed to build condition").WithCause(err)
	}

	if pid := chat.ProjectID(); pid != nil {
		return s.createChatInProject(ctx, chat, *pid, av, expr)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(s.tableName),
		Item:                     av,
		ConditionExpression:      expr.Condition(),
		ExpressionAttributeNames: expr.Names(),
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return pkgerrors.NewConcurrencyConflictError("chat already exists").
				WithDetail("chat_id", chat.ID().String())
		}
		return pkgerrors.NewDatabaseError("CreateChat", err)
	}

	s.logger.Debug("Chat created in DynamoDB", zap.String("chatID", chat.ID().String()))
	return nil
}

func (s *Store) createChatInProject(
	ctx context.Context,
	chat *entities.Chat,
	projectID valueobjects.ProjectID,
	av map[string]types.AttributeValue,
	newOnly expression.Expression,
) error {
	exists, err := expression.NewBuilder().
		WithCondition(expression.AttributeExists(expression.Name("PK"))).
		Build()
	if err != nil {
		return pkgerrors.NewInternalError("failed to build condition").WithCause(err)
	}

	_, err = s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Put: &types.Put{
				TableName:                aws.String(s.tableName),
				Item:                     av,
				ConditionExpression:      newOnly.Condition(),
				ExpressionAttributeNames: newOnly.Names(),
			}},
			{ConditionCheck: &types.ConditionCheck{
				TableName:                aws.String(s.tableName),
				Key:                      itemKey(projectPK(projectID), skMeta),
				ConditionExpression:      exists.Condition(),
				ExpressionAttributeNames: exists.Names(),
			}},
		},
	})
	if err != nil {
		var tce *types.TransactionCanceledException
		if errors.As(err, &tce) {
			for i, reason := range tce.CancellationReasons {
				if aws.ToString(reason.Code) != "ConditionalCheckFailed" {
					continue
				}
				if i == 0 {
					return pkgerrors.NewConcurrencyConflictError("chat already exists").
						WithDetail("chat_id", chat.ID().String())
				}
				return pkgerrors.NewUnknownProjectError(projectID.String())
			}
		}
		return pkgerrors.NewDatabaseError("CreateChat", err)
	}

	s.logger.Debug("Chat created in DynamoDB",
		zap.String("chatID", chat.ID().String()),
		zap.String("projectID", projectID.String()),
	)
	return nil
}

// GetChat retrieves a chat's metadata
func (s *Store) GetChat(ctx context.Context, id valueobjects.ChatID) (*entities.Chat, error) {
	item, err := s.getMeta(ctx, id)
	if err != nil {
		return nil, err
	}
	return item.toEntity(), nil
}

func (s *Store) getMeta(ctx context.Context, id valueobjects.ChatID) (*chatItem, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            itemKey(chatPK(id), skMeta),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, pkgerrors.NewDatabaseError("GetChat", err)
	}
	if result.Item == nil {
		return nil, pkgerrors.NewUnknownChatError(id.String())
	}
	var item chatItem
	if err := attributevalue.UnmarshalMap(result.Item, &item); err != nil {
		return nil, pkgerrors.NewDatabaseError("GetChat", err)
	}
	return &item, nil
}

// ListChatsByOwner queries the owner index, most recently updated first
func (s *Store) ListChatsByOwner(ctx context.Context, ownerID string) ([]*entities.Chat, error) {
	return s.listChats(ctx, "ListChatsByOwner", ownerID, nil)
}

func (s *Store) listChats(ctx context.Context, op, ownerID string, filter *expression.ConditionBuilder) ([]*entities.Chat, error) {
	var chats []*entities.Chat
	err := s.queryOwnerIndex(ctx, op, ownerID, gsiChatPfx, filter, func(items []map[string]types.AttributeValue) error {
		var page []chatItem
		if err := attributevalue.UnmarshalListOfMaps(items, &page); err != nil {
			return pkgerrors.NewDatabaseError(op, err)
		}
		for _, item := range page {
			chats = append(chats, item.toEntity())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(chats, func(i, j int) bool {
		return chats[i].UpdatedAt().After(chats[j].UpdatedAt())
	})
	return chats, nil
}

// queryOwnerIndex pages through one owner's GSI1 entries of one entity kind
func (s *Store) queryOwnerIndex(
	ctx context.Context,
	op, ownerID, skPrefix string,
	filter *expression.ConditionBuilder,
	handle func(items []map[string]types.AttributeValue) error,
) error {
	keyCond := expression.Key("GSI1PK").Equal(expression.Value(ownerPK(ownerID))).
		And(expression.Key("GSI1SK").BeginsWith(skPrefix))
	builder := expression.NewBuilder().WithKeyCondition(keyCond)
	if filter != nil {
		builder = builder.WithFilter(*filter)
	}
	expr, err := builder.Build()
	if err != nil {
		return pkgerrors.NewInternalError("failed to build key condition").WithCause(err)
	}

	paginator := dynamodb.NewQueryPaginator(s.client, &dynamodb.QueryInput{
		TableName:                 aws.String(s.tableName),
		IndexName:                 aws.String(gsiOwnerIndex),
		KeyConditionExpression:    expr.KeyCondition(),
		FilterExpression:          expr.Filter(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return pkgerrors.NewDatabaseError(op, err)
		}
		if err := handle(page.Items); err != nil {
			return err
		}
	}
	return nil
}

// UpdateChat persists name, description, status and timestamps
func (s *Store) UpdateChat(ctx context.Context, chat *entities.Chat) error {
	update := expression.
		Set(expression.Name("Name"), expression.Value(chat.Name())).
		Set(expression.Name("Description"), expression.Value(chat.Description())).
		Set(expression.Name("Status"), expression.Value(string(chat.Status()))).
		Set(expression.Name("UpdatedAt"), expression.Value(chat.UpdatedAt().Format(timeLayout)))
	expr, err := expression.NewBuilder().
		WithUpdate(update).
		WithCondition(expression.AttributeExists(expression.Name("PK"))).
		Build()
	if err != nil {
		return pkgerrors.NewInternalError("failed to build update").WithCause(err)
	}

	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.tableName),
		Key:                       itemKey(chatPK(chat.ID()), skMeta),
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return pkgerrors.NewUnknownChatError(chat.ID().String())
		}
		return pkgerrors.NewDatabaseError("UpdateChat", err)
	}
	return nil
}

// DeleteChat removes the META item first, so the chat disappears at once,
// then sweeps the rest of the partition in batches.
func (s *Store) DeleteChat(ctx context.Context, id valueobjects.ChatID) error {
	expr, err := expression.NewBuilder().
		WithCondition(expression.AttributeExists(expression.Name("PK"))).
		Build()
	if err != nil {
		return pkgerrors.NewInternalError("failed to build condition").WithCause(err)
	}
	_, err = s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:                aws.String(s.tableName),
		Key:                      itemKey(chatPK(id), skMeta),
		ConditionExpression:      expr.Condition(),
		ExpressionAttributeNames: expr.Names(),
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return pkgerrors.NewUnknownChatError(id.String())
		}
		return pkgerrors.NewDatabaseError("DeleteChat", err)
	}

	var keys []map[string]types.AttributeValue
	keysOnly := expression.NamesList(expression.Name("PK"), expression.Name("SK"))
	err = s.queryPartition(ctx, chatPK(id), "", &keysOnly, func(items []map[string]types.AttributeValue) error {
		keys = append(keys, items...)
		return nil
	})
	if err != nil {
		return err
	}

	requests := make([]types.WriteRequest, 0, len(keys))
	for _, key := range keys {
		requests = append(requests, types.WriteRequest{DeleteRequest: &types.DeleteRequest{Key: key}})
	}
	if err := s.batchWrite(ctx, requests); err != nil {
		return err
	}

	s.logger.Info("Chat deleted from DynamoDB",
		zap.String("chatID", id.String()),
		zap.Int("itemsRemoved", len(keys)+1),
	)
	return nil
}

// ----- Projects -----

// CreateProject writes a project item
func (s *Store) CreateProject(ctx context.Context, project *entities.Project) error {
	av, err := attributevalue.MarshalMap(newProjectItem(project))
	if err != nil {
		return pkgerrors.NewInternalError("failed to marshal project").WithCause(err)
	}
	expr, err := expression.NewBuilder().
		WithCondition(expression.AttributeNotExists(expression.Name("PK"))).
		Build()
	if err != nil {
		return pkgerrors.NewInternalError("failed to build condition").WithCause(err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(s.tableName),
		Item:                     av,
		ConditionExpression:      expr.Condition(),
		ExpressionAttributeNames: expr.Names(),
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return pkgerrors.NewConcurrencyConflictError("project already exists").
				WithDetail("project_id", project.ID().String())
		}
		return pkgerrors.NewDatabaseError("CreateProject", err)
	}
	return nil
}

// GetProject retrieves a project
func (s *Store) GetProject(ctx context.Context, id valueobjects.ProjectID) (*entities.Project, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            itemKey(projectPK(id), skMeta),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, pkgerrors.NewDatabaseError("GetProject", err)
	}
	if result.Item == nil {
		return nil, pkgerrors.NewUnknownProjectError(id.String())
	}
	var item projectItem
	if err := attributevalue.UnmarshalMap(result.Item, &item); err != nil {
		return nil, pkgerrors.NewDatabaseError("GetProject", err)
	}
	return item.toEntity(), nil
}

// ListProjectsByOwner queries the owner index, most recently updated first
func (s *Store) ListProjectsByOwner(ctx context.Context, ownerID string) ([]*entities.Project, error) {
	var projects []*entities.Project
	err := s.queryOwnerIndex(ctx, "ListProjectsByOwner", ownerID, gsiProjectPfx, nil, func(items []map[string]types.AttributeValue) error {
		var page []projectItem
		if err := attributevalue.UnmarshalListOfMaps(items, &page); err != nil {
			return pkgerrors.NewDatabaseError("ListProjectsByOwner", err)
		}
		for _, item := range page {
			projects = append(projects, item.toEntity())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(projects, func(i, j int) bool {
		return projects[i].UpdatedAt().After(projects[j].UpdatedAt())
	})
	return projects, nil
}

// ListChatsInProject queries the owner's chats filtered to one project
func (s *Store) ListChatsInProject(ctx context.Context, ownerID string, projectID valueobjects.ProjectID) ([]*entities.Chat, error) {
	filter := expression.Name("ProjectID").Equal(expression.Value(projectID.String()))
	return s.listChats(ctx, "ListChatsInProject", ownerID, &filter)
}

// UpdateProject persists name, description and timestamps
func (s *Store) UpdateProject(ctx context.Context, project *entities.Project) error {
	update := expression.
		Set(expression.Name("Name"), expression.Value(project.Name())).
		Set(expression.Name("Description"), expression.Value(project.Description())).
		Set(expression.Name("UpdatedAt"), expression.Value(project.UpdatedAt().Format(timeLayout)))
	expr, err := expression.NewBuilder().
		WithUpdate(update).
		WithCondition(expression.AttributeExists(expression.Name("PK"))).
		Build()
	if err != nil {
		return pkgerrors.NewInternalError("failed to build update").WithCause(err)
	}

	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.tableName),
		Key:                       itemKey(projectPK(project.ID()), skMeta),
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return pkgerrors.NewUnknownProjectError(project.ID().String())
		}
		return pkgerrors.NewDatabaseError("UpdateProject", err)
	}
	return nil
}

// DeleteProject removes the project item, then deletes every chat placed in it
func (s *Store) DeleteProject(ctx context.Context, id valueobjects.ProjectID) error {
	project, err := s.GetProject(ctx, id)
	if err != nil {
		return err
	}

	expr, err := expression.NewBuilder().
		WithCondition(expression.AttributeExists(expression.Name("PK"))).
		Build()
	if err != nil {
		return pkgerrors.NewInternalError("failed to build condition").WithCause(err)
	}
	_, err = s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:                aws.String(s.tableName),
		Key:                      itemKey(projectPK(id), skMeta),
		ConditionExpression:      expr.Condition(),
		ExpressionAttributeNames: expr.Names(),
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return pkgerrors.NewUnknownProjectError(id.String())
		}
		return pkgerrors.NewDatabaseError("DeleteProject", err)
	}

	chats, err := s.ListChatsInProject(ctx, project.OwnerID(), id)
	if err != nil {
		return err
	}
	for _, chat := range chats {
		if err := s.DeleteChat(ctx, chat.ID()); err != nil && !pkgerrors.IsUnknownChat(err) {
			return err
		}
	}

	s.logger.Info("Project deleted from DynamoDB",
		zap.String("projectID", id.String()),
		zap.Int("chatsRemoved", len(chats)),
	)
	return nil
}

// ----- Conversation -----

// LoadConversation reads META, message links, branches and edits. The META version is read
// again at the end; if a commit landed in between, the read is retried so the
// returned state is never torn.
func (s *Store) LoadConversation(ctx context.Context, chatID valueobjects.ChatID) (*ports.ConversationState, error) {
	for attempt := 1; ; attempt++ {
		state, stable, err := s.loadOnce(ctx, chatID)
		if err != nil {
			return nil, err
		}
		if stable {
			return state, nil
		}
		if attempt >= loadAttempts {
			return nil, pkgerrors.NewConcurrencyConflictError("conversation kept changing while loading").
				WithDetail("chat_id", chatID.String())
		}
		s.logger.Debug("Conversation changed during load, retrying",
			zap.String("chatID", chatID.String()),
			zap.Int("attempt", attempt),
		)
	}
}

func (s *Store) loadOnce(ctx context.Context, chatID valueobjects.ChatID) (*ports.ConversationState, bool, error) {
	meta, err := s.getMeta(ctx, chatID)
	if err != nil {
		return nil, false, err
	}

	graph, err := s.loadGraph(ctx, chatID)
	if err != nil {
		return nil, false, err
	}

	var branches []entities.Branch
	err = s.queryPartition(ctx, chatPK(chatID), skBranchPfx, nil, func(items []map[string]types.AttributeValue) error {
		var page []branchItem
		if err := attributevalue.UnmarshalListOfMaps(items, &page); err != nil {
			return pkgerrors.NewDatabaseError("LoadBranches", err)
		}
		for _, item := range page {
			branches = append(branches, item.toEntity())
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	var edits []entities.Edit
	err = s.queryPartition(ctx, chatPK(chatID), skEditPfx, nil, func(items []map[string]types.AttributeValue) error {
		var page []editItem
		if err := attributevalue.UnmarshalListOfMaps(items, &page); err != nil {
			return pkgerrors.NewDatabaseError("LoadEdits", err)
		}
		for _, item := range page {
			edits = append(edits, item.toEntity())
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	again, err := s.getMeta(ctx, chatID)
	if err != nil {
		return nil, false, err
	}
	if again.Version != meta.Version {
		return nil, false, nil
	}

	sort.Slice(branches, func(i, j int) bool { return branches[i].Seq < branches[j].Seq })
	return &ports.ConversationState{
		Graph:          graph,
		Branches:       branches,
		ActiveBranchID: valueobjects.BranchID(meta.ActiveBranchID),
		Edits:          edits,
		Version:        meta.Version,
	}, true, nil
}

// loadGraph rebuilds the graph from the parent link on each message item
func (s *Store) loadGraph(ctx context.Context, chatID valueobjects.ChatID) (*aggregates.Graph, error) {
	var links []messageItem
	projection := expression.NamesList(
		expression.Name("MessageID"), expression.Name("ParentID"), expression.Name("Ordinal"),
	)
	err := s.queryPartition(ctx, chatPK(chatID), skMessagePfx, &projection, func(items []map[string]types.AttributeValue) error {
		var page []messageItem
		if err := attributevalue.UnmarshalListOfMaps(items, &page); err != nil {
			return pkgerrors.NewDatabaseError("LoadGraph", err)
		}
		links = append(links, page...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(links, func(i, j int) bool { return links[i].Ordinal < links[j].Ordinal })
	rows := make([]aggregates.ParentLink, len(links))
	for i, item := range links {
		rows[i] = item.link()
	}
	return aggregates.BuildGraph(rows)
}

// CommitConversation writes the changeset as one TransactWriteItems call.
// The first item updates META on the condition that Version still equals
// ExpectedVersion, so a stale changeset cancels the whole transaction.
func (s *Store) CommitConversation(ctx context.Context, cs aggregates.Changeset) error {
	metaUpdate := expression.
		Set(expression.Name("Version"), expression.Value(cs.Version)).
		Set(expression.Name("ActiveBranchID"), expression.Value(cs.ActiveBranchID.String())).
		Set(expression.Name("UpdatedAt"), expression.Value(s.clock().Format(timeLayout)))
	metaCond := expression.AttributeExists(expression.Name("PK")).
		And(expression.Name("Version").Equal(expression.Value(cs.ExpectedVersion)))
	metaExpr, err := expression.NewBuilder().WithUpdate(metaUpdate).WithCondition(metaCond).Build()
	if err != nil {
		return pkgerrors.NewInternalError("failed to build commit condition").WithCause(err)
	}

	items := []types.TransactWriteItem{{
		Update: &types.Update{
			TableName:                 aws.String(s.tableName),
			Key:                       itemKey(chatPK(cs.ChatID), skMeta),
			UpdateExpression:          metaExpr.Update(),
			ConditionExpression:       metaExpr.Condition(),
			ExpressionAttributeNames:  metaExpr.Names(),
			ExpressionAttributeValues: metaExpr.Values(),
		},
	}}

	newOnly, err := expression.NewBuilder().
		WithCondition(expression.AttributeNotExists(expression.Name("PK"))).
		Build()
	if err != nil {
		return pkgerrors.NewInternalError("failed to build condition").WithCause(err)
	}

	ordinals := make(map[valueobjects.MessageID]int, cs.Graph.Len())
	for i, id := range cs.Graph.Keys() {
		ordinals[id] = i
	}

	for _, m := range cs.Messages {
		node, ok := cs.Graph.Node(m.ID())
		if !ok {
			return pkgerrors.NewGraphCorruptError(
				fmt.Sprintf("message %s is missing from the committed graph", m.ID()))
		}
		put, err := s.conditionalPut(newMessageItem(m, node.Parent, ordinals[m.ID()]), &newOnly)
		if err != nil {
			return err
		}
		items = append(items, put)
	}
	for _, b := range cs.Branches {
		put, err := s.conditionalPut(newBranchItem(b), nil)
		if err != nil {
			return err
		}
		items = append(items, put)
	}
	for _, e := range cs.Edits {
		put, err := s.conditionalPut(newEditItem(e), &newOnly)
		if err != nil {
			return err
		}
		items = append(items, put)
	}
	if s.outbox {
		for _, evt := range cs.Events {
			put, err := s.outboxPut(evt)
			if err != nil {
				return err
			}
			items = append(items, put)
		}
	}

	if len(items) > maxTransactItems {
		return pkgerrors.NewInternalError("changeset exceeds the transaction item limit").
			WithDetail("items", len(items))
	}

	_, err = s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	if err != nil {
		return s.commitError(ctx, cs, err)
	}

	s.logger.Debug("Conversation committed",
		zap.String("chatID", cs.ChatID.String()),
		zap.Int64("version", cs.Version),
		zap.Int("items", len(items)),
	)
	return nil
}

func (s *Store) conditionalPut(item interface{}, cond *expression.Expression) (types.TransactWriteItem, error) {
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return types.TransactWriteItem{}, pkgerrors.NewInternalError("failed to marshal item").WithCause(err)
	}
	put := &types.Put{TableName: aws.String(s.tableName), Item: av}
	if cond != nil {
		put.ConditionExpression = cond.Condition()
		put.ExpressionAttributeNames = cond.Names()
	}
	return types.TransactWriteItem{Put: put}, nil
}

// commitError maps a failed transaction. Reason 0 is always the META guard.
func (s *Store) commitError(ctx context.Context, cs aggregates.Changeset, err error) error {
	var tce *types.TransactionCanceledException
	if !errors.As(err, &tce) {
		return pkgerrors.NewDatabaseError("CommitConversation", err)
	}

	for i, reason := range tce.CancellationReasons {
		if reason.Code == nil || *reason.Code != "ConditionalCheckFailed" {
			continue
		}
		if i > 0 {
			return pkgerrors.NewInvalidReferenceError("changeset writes a record that already exists")
		}
		if _, metaErr := s.getMeta(ctx, cs.ChatID); pkgerrors.IsUnknownChat(metaErr) {
			return metaErr
		}
		return pkgerrors.NewConcurrencyConflictError("conversation was modified concurrently").
			WithDetail("expected_version", cs.ExpectedVersion).
			WithCause(err)
	}
	return pkgerrors.NewConcurrencyConflictError("commit transaction was cancelled").WithCause(err)
}

// ----- Messages -----

// GetMessage retrieves one message of a chat
func (s *Store) GetMessage(ctx context.Context, chatID valueobjects.ChatID, id valueobjects.MessageID) (*entities.Message, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key:       itemKey(chatPK(chatID), messageSK(id)),
	})
	if err != nil {
		return nil, pkgerrors.NewDatabaseError("GetMessage", err)
	}
	if result.Item == nil {
		return nil, pkgerrors.NewUnknownMessageError(id.String())
	}
	var item messageItem
	if err := attributevalue.UnmarshalMap(result.Item, &item); err != nil {
		return nil, pkgerrors.NewDatabaseError("GetMessage", err)
	}
	return item.toEntity(), nil
}

// GetMessages resolves ids with BatchGetItem; ids without a record are omitted
func (s *Store) GetMessages(ctx context.Context, chatID valueobjects.ChatID, ids []valueobjects.MessageID) (map[valueobjects.MessageID]*entities.Message, error) {
	out := make(map[valueobjects.MessageID]*entities.Message, len(ids))

	for start := 0; start < len(ids); start += maxBatchGetKeys {
		end := start + maxBatchGetKeys
		if end > len(ids) {
			end = len(ids)
		}

		keys := make([]map[string]types.AttributeValue, 0, end-start)
		for _, id := range ids[start:end] {
			keys = append(keys, itemKey(chatPK(chatID), messageSK(id)))
		}
		request := map[string]types.KeysAndAttributes{s.tableName: {Keys: keys}}

		for attempt := 0; len(request) > 0; attempt++ {
			if attempt >= maxBatchRetries {
				return nil, pkgerrors.NewUnavailableError("dynamodb").
					WithDetail("reason", "unprocessed keys after retries")
			}
			if attempt > 0 {
				if err := sleepCtx(ctx, backoff(attempt)); err != nil {
					return nil, err
				}
			}

			result, err := s.client.BatchGetItem(ctx, &dynamodb.BatchGetItemInput{RequestItems: request})
			if err != nil {
				return nil, pkgerrors.NewDatabaseError("GetMessages", err)
			}
			var items []messageItem
			if err := attributevalue.UnmarshalListOfMaps(result.Responses[s.tableName], &items); err != nil {
				return nil, pkgerrors.NewDatabaseError("GetMessages", err)
			}
			for _, item := range items {
				m := item.toEntity()
				out[m.ID()] = m
			}
			request = result.UnprocessedKeys
		}
	}
	return out, nil
}

// ListMessages returns every message of a chat in insertion order
func (s *Store) ListMessages(ctx context.Context, chatID valueobjects.ChatID) ([]*entities.Message, error) {
	if _, err := s.getMeta(ctx, chatID); err != nil {
		return nil, err
	}

	var items []messageItem
	err := s.queryPartition(ctx, chatPK(chatID), skMessagePfx, nil, func(page []map[string]types.AttributeValue) error {
		var decoded []messageItem
		if err := attributevalue.UnmarshalListOfMaps(page, &decoded); err != nil {
			return pkgerrors.NewDatabaseError("ListMessages", err)
		}
		items = append(items, decoded...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(items, func(i, j int) bool { return items[i].Ordinal < items[j].Ordinal })
	msgs := make([]*entities.Message, 0, len(items))
	for _, item := range items {
		msgs = append(msgs, item.toEntity())
	}
	return msgs, nil
}

// ----- helpers -----

func itemKey(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pk},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

// queryPartition pages through a partition, optionally restricted to an SK prefix
func (s *Store) queryPartition(
	ctx context.Context,
	pk, skPrefix string,
	projection *expression.ProjectionBuilder,
	handle func(items []map[string]types.AttributeValue) error,
) error {
	keyCond := expression.Key("PK").Equal(expression.Value(pk))
	if skPrefix != "" {
		keyCond = keyCond.And(expression.Key("SK").BeginsWith(skPrefix))
	}
	builder := expression.NewBuilder().WithKeyCondition(keyCond)
	if projection != nil {
		builder = builder.WithProjection(*projection)
	}
	expr, err := builder.Build()
	if err != nil {
		return pkgerrors.NewInternalError("failed to build key condition").WithCause(err)
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(s.tableName),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ProjectionExpression:      expr.Projection(),
		ConsistentRead:            aws.Bool(true),
	}

	paginator := dynamodb.NewQueryPaginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return pkgerrors.NewDatabaseError("Query", err)
		}
		if err := handle(page.Items); err != nil {
			return err
		}
	}
	return nil
}

// batchWrite sends write requests in chunks of 25, retrying unprocessed items
func (s *Store) batchWrite(ctx context.Context, requests []types.WriteRequest) error {
	for start := 0; start < len(requests); start += maxBatchWriteReqs {
		end := start + maxBatchWriteReqs
		if end > len(requests) {
			end = len(requests)
		}
		pending := map[string][]types.WriteRequest{s.tableName: requests[start:end]}

		for attempt := 0; len(pending[s.tableName]) > 0; attempt++ {
			if attempt >= maxBatchRetries {
				return pkgerrors.NewUnavailableError("dynamodb").
					WithDetail("unprocessed", len(pending[s.tableName]))
			}
			if attempt > 0 {
				if err := sleepCtx(ctx, backoff(attempt)); err != nil {
					return err
				}
			}
			result, err := s.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: pending})
			if err != nil {
				return pkgerrors.NewDatabaseError("BatchWriteItem", err)
			}
			pending = result.UnprocessedItems
		}
	}
	return nil
}

func isConditionalCheckFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

func backoff(attempt int) time.Duration {
	d := 50 * time.Millisecond << uint(attempt-1)
	if d > time.Second {
		d = time.Second
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
