package commerce

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/storefront-core/internal/model"
)

const checkoutFields = `
	id
	email
	channel { slug }
	languageCode
	lines {
		quantity
		variant { id }
	}`

type checkoutData struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	LanguageCode string `json:"languageCode"`
	Channel      struct {
		Slug string `json:"slug"`
	} `json:"channel"`
	Lines []struct {
		Quantity int `json:"quantity"`
		Variant  struct {
			ID string `json:"id"`
		} `json:"variant"`
	} `json:"lines"`
}

func (d *checkoutData) toCart() model.Cart {
	c := model.Cart{
		ID:           d.ID,
		OwnerEmail:   d.Email,
		Channel:      d.Channel.Slug,
		LanguageCode: d.LanguageCode,
		Lines:        make([]model.CartLine, 0, len(d.Lines)),
	}
	for _, l := range d.Lines {
		c.Lines = append(c.Lines, model.CartLine{VariantID: l.Variant.ID, Quantity: l.Quantity})
	}
	return c
}

const getCartQuery = `query Checkout($id: ID!) {
	checkout(id: $id) {` + checkoutFields + `
	}
}`

// GetCart загружает корзину. Отсутствующая корзина даёт ErrNotFound.
func (c *Client) GetCart(ctx context.Context, id string, region model.Region) (model.Cart, error) {
	var out struct {
		Checkout *checkoutData `json:"checkout"`
	}
	vars := map[string]any{"id": id}
	if err := c.query(ctx, "checkout", getCartQuery, vars, "", &out); err != nil {
		return model.Cart{}, err
	}
	if out.Checkout == nil {
		return model.Cart{}, fmt.Errorf("checkout %s: %w", id, ErrNotFound)
	}

	cart := out.Checkout.toCart()
	if cart.Channel == "" {
		cart.Channel = region.Channel()
	}
	if cart.LanguageCode == "" {
		cart.LanguageCode = region.LanguageCode()
	}
	return cart, nil
}

const addLinesMutation = `mutation CheckoutLinesAdd($id: ID!, $lines: [CheckoutLineInput!]!) {
	checkoutLinesAdd(id: $id, lines: $lines) {
		checkout {` + checkoutFields + `
		}
		errors { field message code }
	}
}`

const languageMutation = `mutation CheckoutLanguageCodeUpdate($id: ID!, $languageCode: LanguageCodeEnum!) {
	checkoutLanguageCodeUpdate(id: $id, languageCode: $languageCode) {
		errors { field message code }
	}
}`

// AddLines добавляет строки в корзину одним вызовом. Язык корзины выравнивается по региону.
func (c *Client) AddLines(ctx context.Context, cartID string, lines []model.CartLine, region model.Region) (model.Cart, error) {
	if code := region.LanguageCode(); code != "" {
		// Язык корзины влияет только на локализацию, перенос позиций от него не зависит.
		if err := c.updateLanguage(ctx, cartID, code); err != nil {
			c.logger.Warn("checkout language not updated",
				zap.String("checkout_id", cartID), zap.String("language", code), zap.Error(err))
		}
	}

	input := make([]map[string]any, 0, len(lines))
	for _, l := range lines {
		input = append(input, map[string]any{"variantId": l.VariantID, "quantity": l.Quantity})
	}

	var out struct {
		Result struct {
			Checkout *checkoutData  `json:"checkout"`
			Errors   []mutationError `json:"errors"`
		} `json:"checkoutLinesAdd"`
	}
	vars := map[string]any{"id": cartID, "lines": input}
	if err := c.mutate(ctx, "checkoutLinesAdd", addLinesMutation, vars, "", &out); err != nil {
		return model.Cart{}, err
	}
	if err := checkMutation("checkoutLinesAdd", out.Result.Errors); err != nil {
		return model.Cart{}, err
	}
	if out.Result.Checkout == nil {
		return model.Cart{}, fmt.Errorf("checkoutLinesAdd %s: %w", cartID, ErrNotFound)
	}
	return out.Result.Checkout.toCart(), nil
}

func (c *Client) updateLanguage(ctx context.Context, cartID, code string) error {
	var out struct {
		Result struct {
			Errors []mutationError `json:"errors"`
		} `json:"checkoutLanguageCodeUpdate"`
	}
	vars := map[string]any{"id": cartID, "languageCode": code}
	if err := c.mutate(ctx, "checkoutLanguageCodeUpdate", languageMutation, vars, "", &out); err != nil {
		return err
	}
	return checkMutation("checkoutLanguageCodeUpdate", out.Result.Errors)
}

const attachCustomerMutation = `mutation CheckoutCustomerAttach($id: ID!) {
	checkoutCustomerAttach(id: $id) {
		checkout {` + checkoutFields + `
		}
		errors { field message code }
	}
}`

// AttachCustomer привязывает гостевую корзину к владельцу токена.
func (c *Client) AttachCustomer(ctx context.Context, cartID, accessToken string) (model.Cart, error) {
	var out struct {
		Result struct {
			Checkout *checkoutData  `json:"checkout"`
			Errors   []mutationError `json:"errors"`
		} `json:"checkoutCustomerAttach"`
	}
	vars := map[string]any{"id": cartID}
	if err := c.mutate(ctx, "checkoutCustomerAttach", attachCustomerMutation, vars, accessToken, &out); err != nil {
		return model.Cart{}, err
	}
	if err := checkMutation("checkoutCustomerAttach", out.Result.Errors); err != nil {
		return model.Cart{}, err
	}
	if out.Result.Checkout == nil {
		return model.Cart{}, fmt.Errorf("checkoutCustomerAttach %s: %w", cartID, ErrNotFound)
	}
	return out.Result.Checkout.toCart(), nil
}

const tokenCreateMutation = `mutation TokenCreate($email: String!, $password: String!, $channel: String) {
	tokenCreate(email: $email, password: $password) {
		token
		refreshToken
		user {
			email
			checkoutIds(channel: $channel)
		}
		errors { field message code }
	}
}`

// Authenticate обменивает учётные данные на пару токенов и список корзин аккаунта в канале региона.
func (c *Client) Authenticate(ctx context.Context, email, password string, region model.Region) (model.Account, error) {
	var out struct {
		Result struct {
			Token        string `json:"token"`
			RefreshToken string `json:"refreshToken"`
			User         *struct {
				Email       string   `json:"email"`
				CheckoutIDs []string `json:"checkoutIds"`
			} `json:"user"`
			Errors []mutationError `json:"errors"`
		} `json:"tokenCreate"`
	}
	vars := map[string]any{"email": email, "password": password, "channel": region.Channel()}
	if err := c.mutate(ctx, "tokenCreate", tokenCreateMutation, vars, "", &out); err != nil {
		return model.Account{}, err
	}
	if err := checkMutation("tokenCreate", out.Result.Errors); err != nil {
		return model.Account{}, err
	}
	if out.Result.Token == "" {
		return model.Account{}, fmt.Errorf("tokenCreate: %w", ErrUnauthorized)
	}

	acc := model.Account{
		Email:        email,
		AccessToken:  out.Result.Token,
		RefreshToken: out.Result.RefreshToken,
	}
	if out.Result.User != nil {
		if out.Result.User.Email != "" {
			acc.Email = out.Result.User.Email
		}
		acc.CartIDs = reverse(out.Result.User.CheckoutIDs)
	}
	if claims, err := ParseClaims(acc.AccessToken); err == nil && claims.Email != "" {
		acc.Email = claims.Email
	}
	return acc, nil
}

// reverse возвращает копию в обратном порядке: бэкенд отдаёт корзины от старых к новым.
func reverse(ids []string) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[len(ids)-1-i] = id
	}
	return out
}

// WorkerAccount — данные для регистрации учётной записи мастера.
type WorkerAccount struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
	Role      string
	Channel   string
}

const accountRegisterMutation = `mutation AccountRegister($input: AccountRegisterInput!) {
	accountRegister(input: $input) {
		user { id isActive }
		errors { field message code }
	}
}`

// RegisterWorker создаёт учётную запись мастера и возвращает её идентификатор.
// Учётная запись остаётся неактивной до одобрения заявки.
func (c *Client) RegisterWorker(ctx context.Context, w WorkerAccount) (string, error) {
	var out struct {
		Result struct {
			User *struct {
				ID       string `json:"id"`
				IsActive bool   `json:"isActive"`
			} `json:"user"`
			Errors []mutationError `json:"errors"`
		} `json:"accountRegister"`
	}
	vars := map[string]any{"input": map[string]any{
		"email":     w.Email,
		"password":  w.Password,
		"firstName": w.FirstName,
		"lastName":  w.LastName,
		"channel":   w.Channel,
		"metadata":  []map[string]string{{"key": "role", "value": w.Role}},
	}}
	if err := c.mutate(ctx, "accountRegister", accountRegisterMutation, vars, "", &out); err != nil {
		return "", err
	}
	if err := checkMutation("accountRegister", out.Result.Errors); err != nil {
		return "", err
	}
	if out.Result.User == nil || out.Result.User.ID == "" {
		return "", errors.New("accountRegister: empty user in response")
	}
	return out.Result.User.ID, nil
}

const customerActivateMutation = `mutation CustomerActivate($id: ID!) {
	customerUpdate(id: $id, input: {isActive: true}) {
		user { id isActive }
		errors { field message code }
	}
}`

// Activate включает учётную запись мастера. Требует сервисного токена.
func (c *Client) Activate(ctx context.Context, accountID string) error {
	if c.appToken == "" {
		return fmt.Errorf("customerUpdate: %w: app token is not configured", ErrUnauthorized)
	}

	var out struct {
		Result struct {
			User *struct {
				IsActive bool `json:"isActive"`
			} `json:"user"`
			Errors []mutationError `json:"errors"`
		} `json:"customerUpdate"`
	}
	vars := map[string]any{"id": accountID}
	if err := c.mutate(ctx, "customerUpdate", customerActivateMutation, vars, c.appToken, &out); err != nil {
		return err
	}
	if err := checkMutation("customerUpdate", out.Result.Errors); err != nil {
		return err
	}
	if out.Result.User == nil || !out.Result.User.IsActive {
		return fmt.Errorf("customerUpdate %s: account is still inactive", accountID)
	}
	return nil
}

// Claims — сведения из access-токена, нужные витрине.
type Claims struct {
	Email     string
	ExpiresAt time.Time
}
