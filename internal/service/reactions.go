package service

import "chatterlite/internal/models"

// ReactionSummary 某个 emoji 在一条消息上的聚合结果。
type ReactionSummary struct {
	Emoji   string   `json:"emoji"`
	Count   int      `json:"count"`
	UserIDs []string `json:"users"`
}

// AggregateReactions 按 emoji 原样字符串分组，保持首次出现顺序；同一用户重复的同一 emoji 只计一次。
func AggregateReactions(rows []models.Reaction) []ReactionSummary {
	out := make([]ReactionSummary, 0)
	idx := make(map[string]int)
	seen := make(map[[2]string]struct{}, len(rows))
	for _, r := range rows {
		k := [2]string{r.Emoji, r.UserID}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		i, ok := idx[r.Emoji]
		if !ok {
			i = len(out)
			idx[r.Emoji] = i
			out = append(out, ReactionSummary{Emoji: r.Emoji})
		}
		out[i].Count++
		out[i].UserIDs = append(out[i].UserIDs, r.UserID)
	}
	return out
}
