package features

import (
	"context"
	"fmt"
	"unicode/utf8"

	"stream-recommender/internal/chain"
	"stream-recommender/internal/domain"
	"stream-recommender/internal/usecase/similarity"
	"stream-recommender/internal/usecase/weighting"
)

// AuthorCommand вычисляет AUTHOR.
type AuthorCommand struct{}

func (AuthorCommand) Name() string { return "author" }

func (AuthorCommand) Process(_ context.Context, uc *UserContext) chain.Result {
	uc.SetBool(domain.FeatureAuthor, isAuthor(uc))
	return chain.Continue()
}

// MentionCommand вычисляет MENTION.
type MentionCommand struct{}

func (MentionCommand) Name() string { return "mention" }

func (MentionCommand) Process(_ context.Context, uc *UserContext) chain.Result {
	uc.SetBool(domain.FeatureMention, uc.Message.Message.PropertyContains(domain.PropertyMentions, uc.UserID))
	return chain.Continue()
}

// LikeCommand вычисляет LIKE.
type LikeCommand struct{}

func (LikeCommand) Name() string { return "like" }

func (LikeCommand) Process(_ context.Context, uc *UserContext) chain.Result {
	uc.SetBool(domain.FeatureLike, uc.Message.Message.PropertyContains(domain.PropertyLikes, uc.UserID))
	return chain.Continue()
}

// MessageRootCommand вычисляет MESSAGE_ROOT.
type MessageRootCommand struct{}

func (MessageRootCommand) Name() string { return "message-root" }

func (MessageRootCommand) Process(_ context.Context, uc *UserContext) chain.Result {
	uc.SetBool(domain.FeatureMessageRoot, uc.Message.IsRoot())
	return chain.Continue()
}

// DiscussionGuard пропускает признаки обсуждения для автора и корневого сообщения.
type DiscussionGuard struct{}

func (DiscussionGuard) Name() string { return "discussion-guard" }

func (DiscussionGuard) Process(_ context.Context, uc *UserContext) chain.Result {
	if isAuthor(uc) || uc.Value(domain.FeatureAuthor) == 1 {
		return chain.Skip("user is the author")
	}
	if uc.Message.IsRoot() || uc.Value(domain.FeatureMessageRoot) == 1 {
		return chain.Skip("message is the discussion root")
	}
	return chain.Continue()
}

// DiscussionParticipationCommand проверяет, писал ли пользователь в обсуждении.
type DiscussionParticipationCommand struct{}

func (DiscussionParticipationCommand) Name() string { return "discussion-participation" }

func (DiscussionParticipationCommand) Process(_ context.Context, uc *UserContext) chain.Result {
	participated := false
	for _, related := range uc.Message.RelatedMessages {
		if related.AuthorID == uc.UserID {
			participated = true
			break
		}
	}
	uc.SetBool(domain.FeatureDiscussionParticipation, participated)
	uc.SetBool(domain.FeatureDiscussionNoParticipation, !participated)
	return chain.Continue()
}

// DiscussionMentionCommand проверяет, упоминали ли пользователя в обсуждении.
type DiscussionMentionCommand struct{}

func (DiscussionMentionCommand) Name() string { return "discussion-mention" }

func (DiscussionMentionCommand) Process(_ context.Context, uc *UserContext) chain.Result {
	mentioned := false
	for _, related := range uc.Message.RelatedMessages {
		if related.PropertyContains(domain.PropertyMentions, uc.UserID) {
			mentioned = true
			break
		}
	}
	uc.SetBool(domain.FeatureDiscussionMention, mentioned)
	uc.SetBool(domain.FeatureDiscussionNoMention, !mentioned)
	return chain.Continue()
}

// ContentMatchCommand сравнивает термы сообщения с моделью пользователя.
type ContentMatchCommand struct {
	Feature    domain.FeatureID
	ModelType  string
	Models     ModelReader
	Weighting  weighting.Strategy
	Similarity similarity.Computer
}

func (c ContentMatchCommand) Name() string { return "content-match:" + c.ModelType }

func (c ContentMatchCommand) Process(ctx context.Context, uc *UserContext) chain.Result {
	vector := MessageVector(uc.Message.Message, c.Weighting)
	if len(vector) == 0 {
		uc.Set(c.Feature, 0)
		return chain.Continue()
	}
	model, found, err := c.Models.GetUserModel(ctx, uc.UserID, c.ModelType)
	if err != nil {
		return chain.Fatal(fmt.Errorf("получение модели %s: %w", c.ModelType, err))
	}
	if !found {
		uc.Set(c.Feature, 0)
		return chain.Continue()
	}
	keys := make([]string, 0, len(vector))
	for key := range vector {
		keys = append(keys, key)
	}
	entries, err := c.Models.GetUserModelEntries(ctx, model, keys)
	if err != nil {
		return chain.Fatal(fmt.Errorf("получение записей модели: %w", err))
	}
	uc.Set(c.Feature, c.Similarity.Similarity(vector, entries))
	return chain.Continue()
}

// MessageVector строит вектор сообщения: вес терма в сообщении, умноженный на корпусный вес.
func MessageVector(msg domain.Message, strategy weighting.Strategy) domain.TermVector {
	terms := msg.DistinctScoredTerms()
	vector := make(domain.TermVector, len(terms))
	for _, st := range terms {
		w := st.Weight
		if strategy != nil {
			w *= strategy.Weight(msg.GroupID, st.Term)
		}
		if w == 0 {
			continue
		}
		vector[st.Term.Key()] = w
	}
	return vector
}

// StructuralCommand вычисляет структурные счётчики сообщения.
type StructuralCommand struct{}

func (StructuralCommand) Name() string { return "structural" }

func (StructuralCommand) Process(_ context.Context, uc *UserContext) chain.Result {
	msg := uc.Message.Message
	attachments := 0
	for _, part := range msg.Parts {
		if !part.IsText() {
			attachments++
		}
	}
	uc.Set(domain.FeatureTextLength, float64(utf8.RuneCountInString(msg.Text())))
	uc.Set(domain.FeatureTermCount, float64(len(msg.DistinctScoredTerms())))
	uc.Set(domain.FeatureMentionCount, float64(len(msg.PropertyList(domain.PropertyMentions))))
	uc.Set(domain.FeatureLikeCount, float64(len(msg.PropertyList(domain.PropertyLikes))))
	uc.Set(domain.FeatureTagCount, float64(len(msg.PropertyList(domain.PropertyTags))))
	uc.Set(domain.FeatureAttachmentCount, float64(attachments))
	return chain.Continue()
}

// InteractionLevelCommand классифицирует взаимодействие пользователя с сообщением.
type InteractionLevelCommand struct{}

func (InteractionLevelCommand) Name() string { return "interaction-level" }

func (InteractionLevelCommand) Process(_ context.Context, uc *UserContext) chain.Result {
	switch {
	case isAuthor(uc),
		uc.Message.Message.PropertyContains(domain.PropertyMentions, uc.UserID),
		uc.Message.Message.PropertyContains(domain.PropertyLikes, uc.UserID):
		uc.Aggregate.InteractionLevel = domain.InteractionDirect
	case uc.Value(domain.FeatureDiscussionParticipation) == 1,
		uc.Value(domain.FeatureDiscussionMention) == 1:
		uc.Aggregate.InteractionLevel = domain.InteractionIndirect
	default:
		uc.Aggregate.InteractionLevel = domain.InteractionNone
	}
	return chain.Continue()
}

func isAuthor(uc *UserContext) bool {
	return uc.UserID != "" && uc.Message.Message.AuthorID == uc.UserID
}
