// Package assign はプール型チョアの担当者を決定する純粋関数群を提供する。
// 同じ入力に対して常に同じ担当者を返し、日をまたぐと決定的に変化する。
package assign

import (
	"fmt"
	"hash/fnv"
	"math/rand"
	"time"

	"github.com/hitoshi/chorecast/internal/model"
)

// roundRobinEpoch はラウンドロビンの基準日。ポジションはこの日からの
// 経過日数で決まるため、サーバーを再起動しても順番は保たれる。
var roundRobinEpoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// ForDay は指定日の担当者をプールから決定する。
// poolはユーザーID昇順で渡すこと。プールが空の場合はfalseを返す。
func ForDay(assignmentType model.AssignmentType, pool []int64, choreID int64, isoDate string) (int64, bool) {
	if len(pool) == 0 {
		return 0, false
	}
	switch assignmentType {
	case model.AssignmentShuffle:
		return pool[shuffleIndex(choreID, isoDate, len(pool))], true
	case model.AssignmentRoundRobin:
		return pool[roundRobinIndex(isoDate, len(pool))], true
	}
	return 0, false
}

// shuffleIndex はチョアIDと日付から決定的に疑似乱数を引く。
// 種が同じなら同じインデックスになる。
func shuffleIndex(choreID int64, isoDate string, size int) int {
	h := fnv.New64a()
	fmt.Fprintf(h, "%d-%s", choreID, isoDate)
	rng := rand.New(rand.NewSource(int64(h.Sum64())))
	return rng.Intn(size)
}

// roundRobinIndex は基準日からの経過日数をプールサイズで割った余り。
// 基準日より前の日付でも負にならないよう補正する。
func roundRobinIndex(isoDate string, size int) int {
	date, err := time.ParseInLocation("2006-01-02", isoDate, time.UTC)
	if err != nil {
		return 0
	}
	days := int(date.Sub(roundRobinEpoch).Hours() / 24)
	idx := days % size
	if idx < 0 {
		idx += size
	}
	return idx
}

// NextUp は前回担当者の次の候補を返す。チョアの作成・編集時に
// 当日分の割り当てを記帳するための補助で、日次の決定はForDayが行う。
// 前回担当者が不明またはプールから外れている場合は先頭を返す。
func NextUp(pool []int64, lastAssignedUserID *int64) (int64, bool) {
	if len(pool) == 0 {
		return 0, false
	}
	if lastAssignedUserID == nil {
		return pool[0], true
	}
	for i, id := range pool {
		if id == *lastAssignedUserID {
			return pool[(i+1)%len(pool)], true
		}
	}
	return pool[0], true
}
