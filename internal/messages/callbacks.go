package messages

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"challenge-bot/internal/models"
)

// Callback data is "<action>[:arg...]" and must stay under 64 bytes.
type Action string

const (
	ActAge      Action = "age"
	ActDay      Action = "day"
	ActTime     Action = "time"
	ActDiff     Action = "diff"
	ActCategory Action = "cat"
	ActMenu     Action = "menu"
	ActProgress Action = "progress"
	ActTariffs  Action = "tariffs"
	ActFAQ      Action = "faq"
	ActBuy      Action = "buy"
	ActCheck    Action = "check"
	ActPromoPay Action = "promopay"
)

const (
	StepStart  = "start"
	StepDone   = "done"
	StepFailed = "failed"
	keepArg    = "keep"
)

var ErrBadCallback = errors.New("malformed callback data")

// Callback is parsed button data. Only the fields of its action are set.
type Callback struct {
	Action     Action
	Age        int
	Day        int
	Step       string
	Bucket     models.TimeBucket
	Difficulty models.Difficulty
	From, To   models.Category
	Keep       bool
	Table      string
	Code       string
	GatewayID  string
}

func AgeData(age int) string { return fmt.Sprintf("age:%d", age) }

func DayData(day int, step string) string { return fmt.Sprintf("day:%d:%s", day, step) }

func TimeData(day int, b models.TimeBucket) string { return fmt.Sprintf("time:%d:%s", day, b) }

// DiffData carries the day-1 time bucket along with the difficulty.
func DiffData(b models.TimeBucket, d models.Difficulty) string {
	return fmt.Sprintf("diff:%s:%s", b, d)
}

func CategoryData(from, to models.Category) string { return fmt.Sprintf("cat:%s:%s", from, to) }

func KeepCategoryData() string { return "cat:" + keepArg }

func BuyData(table, code string) string { return fmt.Sprintf("buy:%s:%s", table, code) }

func CheckData(gatewayID string) string { return "check:" + gatewayID }

func PromoPayData(code string) string { return "promopay:" + code }

func ParseCallback(data string) (Callback, error) {
	parts := strings.Split(data, ":")
	cb := Callback{Action: Action(parts[0])}
	args := parts[1:]

	bad := func() (Callback, error) {
		return Callback{}, fmt.Errorf("%w: %q", ErrBadCallback, data)
	}

	switch cb.Action {
	case ActMenu, ActProgress, ActTariffs, ActFAQ:
		if len(args) != 0 {
			return bad()
		}
	case ActAge:
		if len(args) != 1 {
			return bad()
		}
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return bad()
		}
		cb.Age = n
	case ActDay:
		if len(args) != 2 {
			return bad()
		}
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return bad()
		}
		switch args[1] {
		case StepStart, StepDone, StepFailed:
		default:
			return bad()
		}
		cb.Day, cb.Step = n, args[1]
	case ActTime:
		if len(args) != 2 {
			return bad()
		}
		n, err := strconv.Atoi(args[0])
		if err != nil || !models.TimeBucket(args[1]).Valid() {
			return bad()
		}
		cb.Day, cb.Bucket = n, models.TimeBucket(args[1])
	case ActDiff:
		if len(args) != 2 || !models.TimeBucket(args[0]).Valid() || !models.Difficulty(args[1]).Valid() {
			return bad()
		}
		cb.Day = 1
		cb.Bucket, cb.Difficulty = models.TimeBucket(args[0]), models.Difficulty(args[1])
	case ActCategory:
		switch {
		case len(args) == 1 && args[0] == keepArg:
			cb.Keep = true
		case len(args) == 2 && models.Category(args[0]).Valid() && models.Category(args[1]).Valid():
			cb.From, cb.To = models.Category(args[0]), models.Category(args[1])
		default:
			return bad()
		}
	case ActBuy:
		if len(args) != 2 || args[0] == "" || args[1] == "" {
			return bad()
		}
		cb.Table, cb.Code = args[0], args[1]
	case ActCheck:
		if len(args) != 1 || args[0] == "" {
			return bad()
		}
		cb.GatewayID = args[0]
	case ActPromoPay:
		if len(args) != 1 || args[0] == "" {
			return bad()
		}
		cb.Code = args[0]
	default:
		return bad()
	}
	return cb, nil
}
