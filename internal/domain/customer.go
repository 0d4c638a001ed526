package domain

import (
	"math"
	"time"
)

// Rank — уровень лояльности клиента, монотонная функция рейтинговых баллов.
type Rank string

const (
	RankSilver   Rank = "Silver"
	RankGold     Rank = "Gold"
	RankPlatinum Rank = "Platinum"
	RankDiamond  Rank = "Diamond"
)

// rankThreshold связывает минимальное число баллов с уровнем.
type rankThreshold struct {
	MinPoints int64
	Rank      Rank
}

// rankThresholds — упорядоченная таблица порогов. Уровень определяется как
// наибольший порог, не превышающий текущие баллы, поэтому пересчёт всегда
// полный и самокорректирующийся независимо от ранее сохранённого значения.
var rankThresholds = []rankThreshold{
	{MinPoints: 0, Rank: RankSilver},
	{MinPoints: 100, Rank: RankGold},
	{MinPoints: 500, Rank: RankPlatinum},
	{MinPoints: 1000, Rank: RankDiamond},
}

// RankFor возвращает уровень лояльности для заданных рейтинговых баллов.
func RankFor(rankingPoints int64) Rank {
	rank := rankThresholds[0].Rank
	for _, t := range rankThresholds {
		if rankingPoints >= t.MinPoints {
			rank = t.Rank
		}
	}
	return rank
}

// Customer хранит профиль клиента и поля программы лояльности.
// OrderID — ссылка на единственный открытый заказ (может быть пустой);
// OrderHistory — append-only история идентификаторов завершённых заказов.
type Customer struct {
	ID                 string
	FirstName          string
	LastName           string
	Email              string
	Phone              string
	ExchangeablePoints int64
	RankingPoints      int64
	Rank               Rank
	OrderID            string
	OrderHistory       []string
	Version            int64
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// AccrueLoyalty начисляет баллы за завершённый заказ и полностью
// пересчитывает уровень. Начисляется floor(totalCost) в оба аккумулятора.
func (c *Customer) AccrueLoyalty(totalCost float64) {
	points := int64(math.Floor(totalCost))
	c.ExchangeablePoints += points
	c.RankingPoints += points
	c.Rank = RankFor(c.RankingPoints)
}
