package builtin

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Func is a template helper. Arguments arrive already resolved: literals as
// written, paths as the values they point at.
type Func func(args []any) (any, error)

// Registry maps helper names to functions. One registry is built per run and
// handed to the template resolver; nothing is registered globally.
type Registry struct {
	funcs map[string]Func
}

func NewRegistry() *Registry {
	r := &Registry{
		funcs: make(map[string]Func),
	}
	r.registerDefaults()
	return r
}

func (r *Registry) registerDefaults() {
	r.funcs["now"] = funcNow
	r.funcs["timestamp"] = funcTimestamp
	r.funcs["timestampMs"] = funcTimestampMs
	r.funcs["uuid"] = funcUUID
	r.funcs["random"] = funcRandom
	r.funcs["randomString"] = funcRandomString
	r.funcs["randomEmail"] = funcRandomEmail
	r.funcs["base64"] = funcBase64
	r.funcs["base64Decode"] = funcBase64Decode
	r.funcs["md5"] = funcMD5
	r.funcs["sha256"] = funcSHA256
	r.funcs["urlEncode"] = funcURLEncode
	r.funcs["urlDecode"] = funcURLDecode
	r.funcs["date"] = funcDate
	r.funcs["json"] = funcJSON
}

func (r *Registry) Register(name string, fn Func) {
	r.funcs[name] = fn
}

func (r *Registry) Has(name string) bool {
	_, ok := r.funcs[name]
	return ok
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Call(name string, args []any) (any, error) {
	fn, ok := r.funcs[name]
	if !ok {
		return nil, fmt.Errorf("unknown helper %q", name)
	}
	return fn(args)
}

// ToString renders a helper argument the way templates print values.
func ToString(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		return strconv.FormatBool(x)
	case fmt.Stringer:
		return x.String()
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

// ToInt accepts numbers and numeric strings.
func ToInt(v any) (int, bool) {
	switch x := v.(type) {
	case float64:
		return int(x), x == float64(int(x))
	case int:
		return x, true
	case int64:
		return int(x), true
	case string:
		n, err := strconv.Atoi(x)
		return n, err == nil
	}
	return 0, false
}

func intArg(name string, args []any, i, def int) (int, error) {
	if len(args) <= i {
		return def, nil
	}
	n, ok := ToInt(args[i])
	if !ok {
		return 0, fmt.Errorf("%s: argument %d (%v) is not an integer", name, i+1, args[i])
	}
	return n, nil
}

func stringArg(name string, args []any) (string, error) {
	if len(args) < 1 {
		return "", fmt.Errorf("%s: missing argument", name)
	}
	return ToString(args[0]), nil
}

func funcNow(_ []any) (any, error) {
	return time.Now().UTC().Format(time.RFC3339), nil
}

func funcTimestamp(_ []any) (any, error) {
	return float64(time.Now().Unix()), nil
}

func funcTimestampMs(_ []any) (any, error) {
	return float64(time.Now().UnixMilli()), nil
}

func funcUUID(_ []any) (any, error) {
	return uuid.New().String(), nil
}

func funcRandom(args []any) (any, error) {
	min, err := intArg("random", args, 0, 0)
	if err != nil {
		return nil, err
	}
	max, err := intArg("random", args, 1, 100)
	if err != nil {
		return nil, err
	}
	if max < min {
		return nil, fmt.Errorf("random: max %d is less than min %d", max, min)
	}
	return float64(rand.Intn(max-min+1) + min), nil
}

func funcRandomString(args []any) (any, error) {
	length, err := intArg("randomString", args, 0, 16)
	if err != nil {
		return nil, err
	}
	return randomString(length, "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"), nil
}

func funcRandomEmail(_ []any) (any, error) {
	user := randomString(8, "abcdefghijklmnopqrstuvwxyz")
	domain := randomString(6, "abcdefghijklmnopqrstuvwxyz")
	return fmt.Sprintf("%s@%s.com", user, domain), nil
}

func funcBase64(args []any) (any, error) {
	s, err := stringArg("base64", args)
	if err != nil {
		return nil, err
	}
	return base64.StdEncoding.EncodeToString([]byte(s)), nil
}

func funcBase64Decode(args []any) (any, error) {
	s, err := stringArg("base64Decode", args)
	if err != nil {
		return nil, err
	}
	decoded, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("base64Decode: %w", err)
	}
	return string(decoded), nil
}

func funcMD5(args []any) (any, error) {
	s, err := stringArg("md5", args)
	if err != nil {
		return nil, err
	}
	hash := md5.Sum([]byte(s))
	return hex.EncodeToString(hash[:]), nil
}

func funcSHA256(args []any) (any, error) {
	s, err := stringArg("sha256", args)
	if err != nil {
		return nil, err
	}
	hash := sha256.Sum256([]byte(s))
	return hex.EncodeToString(hash[:]), nil
}

func funcURLEncode(args []any) (any, error) {
	s, err := stringArg("urlEncode", args)
	if err != nil {
		return nil, err
	}
	return url.QueryEscape(s), nil
}

func funcURLDecode(args []any) (any, error) {
	s, err := stringArg("urlDecode", args)
	if err != nil {
		return nil, err
	}
	decoded, err := url.QueryUnescape(s)
	if err != nil {
		return s, nil
	}
	return decoded, nil
}

func funcDate(args []any) (any, error) {
	format := "2006-01-02"
	if len(args) >= 1 {
		format = ToString(args[0])
	}
	return time.Now().UTC().Format(format), nil
}

// funcJSON serializes its argument, so {{json user}} embeds an object as JSON text.
func funcJSON(args []any) (any, error) {
	if len(args) < 1 {
		return nil, fmt.Errorf("json: missing argument")
	}
	data, err := json.Marshal(args[0])
	if err != nil {
		return nil, fmt.Errorf("json: %w", err)
	}
	return string(data), nil
}

func randomString(length int, charset string) string {
	result := make([]byte, length)
	for i := 0; i < length; i++ {
		result[i] = charset[rand.Intn(len(charset))]
	}
	return string(result)
}
