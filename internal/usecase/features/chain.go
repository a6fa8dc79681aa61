// Package features вычисляет признаки пары (сообщение, пользователь).
//
// Порядок команд фиксирован: признаки обсуждения читают AUTHOR и MESSAGE_ROOT,
// а классификация взаимодействия читает признаки обсуждения.
package features

import (
	"context"

	"github.com/rs/zerolog"

	"stream-recommender/internal/chain"
	"stream-recommender/internal/domain"
	"stream-recommender/internal/usecase/similarity"
	"stream-recommender/internal/usecase/weighting"
)

// ModelReader читает модели пользователей без их создания.
type ModelReader interface {
	GetUserModel(ctx context.Context, userID, modelType string) (domain.UserModel, bool, error)
	GetUserModelEntries(ctx context.Context, model domain.UserModel, termKeys []string) (map[string]*domain.UserModelEntry, error)
}

// Dependencies — внешние зависимости команд сопоставления содержимого.
type Dependencies struct {
	Models     ModelReader
	Weighting  weighting.Strategy
	Similarity similarity.Computer
}

// NewChain собирает цепочку признаков; команды без признаков в реестре не добавляются.
func NewChain(logger zerolog.Logger, registry domain.FeatureRegistry, deps Dependencies) *chain.Chain[*UserContext] {
	ch := chain.New[*UserContext]("features", logger)
	add := func(cmd chain.Command[*UserContext], ids ...domain.FeatureID) {
		for _, id := range ids {
			if registry.Contains(id) {
				ch.Add(cmd)
				return
			}
		}
	}

	add(AuthorCommand{}, domain.FeatureAuthor)
	add(MentionCommand{}, domain.FeatureMention)
	add(LikeCommand{}, domain.FeatureLike)
	add(MessageRootCommand{}, domain.FeatureMessageRoot)

	add(chain.New[*UserContext]("discussion-participation", logger, DiscussionGuard{}, DiscussionParticipationCommand{}),
		domain.FeatureDiscussionParticipation, domain.FeatureDiscussionNoParticipation)
	add(chain.New[*UserContext]("discussion-mention", logger, DiscussionGuard{}, DiscussionMentionCommand{}),
		domain.FeatureDiscussionMention, domain.FeatureDiscussionNoMention)

	if deps.Models != nil {
		add(ContentMatchCommand{
			Feature:    domain.FeatureContentMatch,
			ModelType:  domain.UserModelTypePlain,
			Models:     deps.Models,
			Weighting:  deps.Weighting,
			Similarity: deps.Similarity,
		}, domain.FeatureContentMatch)
		add(ContentMatchCommand{
			Feature:    domain.FeatureCollaborationMatch,
			ModelType:  domain.UserModelTypeCollaboration,
			Models:     deps.Models,
			Weighting:  deps.Weighting,
			Similarity: deps.Similarity,
		}, domain.FeatureCollaborationMatch)
	}

	add(StructuralCommand{},
		domain.FeatureTextLength, domain.FeatureTermCount, domain.FeatureMentionCount,
		domain.FeatureLikeCount, domain.FeatureTagCount, domain.FeatureAttachmentCount)

	ch.Add(InteractionLevelCommand{})
	return ch
}
