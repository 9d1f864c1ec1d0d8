// Package progress は各処理ステージから進捗を通知するための仕組みを提供します。
package progress

// NoPercent は進捗率を伴わないメッセージのみの通知を表します。
const NoPercent = -1.0

// Sink は進捗通知の受け口です。各ステージは Sink を受け取り、
// 通知先（タスクストアやCLI表示）を意識せずに進捗を報告します。
type Sink interface {
	Report(message string, percent float64)
}

// SinkFunc は関数を Sink として扱うためのアダプタです。
type SinkFunc func(message string, percent float64)

// Report は f(message, percent) を呼び出します。
func (f SinkFunc) Report(message string, percent float64) {
	f(message, percent)
}

// Report は nil を許容し、進捗率を 0〜100 に丸めて通知します。
func Report(s Sink, message string, percent float64) {
	if s == nil {
		return
	}
	if percent != NoPercent {
		if percent < 0 {
			percent = 0
		}
		if percent > 100 {
			percent = 100
		}
	}
	s.Report(message, percent)
}

// Fraction は done/total をパーセントに変換します。
func Fraction(done, total int) float64 {
	if total <= 0 {
		return 100
	}
	return float64(done) / float64(total) * 100
}

// Band はステージ内の 0〜100 の進捗を全体の [from, to] の範囲に写像します。
func Band(s Sink, from, to float64) Sink {
	return SinkFunc(func(message string, percent float64) {
		if percent == NoPercent {
			Report(s, message, NoPercent)
			return
		}
		if percent < 0 {
			percent = 0
		}
		if percent > 100 {
			percent = 100
		}
		Report(s, message, from+(to-from)*percent/100)
	})
}
