package graphqlapi

import (
	"errors"
	"fmt"
	"time"

	"github.com/graphql-go/graphql"

	"github.com/scalableinternetservicesarchive/tindawg/pubsub"
	"github.com/scalableinternetservicesarchive/tindawg/session"
	"github.com/scalableinternetservicesarchive/tindawg/users"
)

// barkTopic is the pubsub topic carrying barks addressed to one user.
func barkTopic(userID int64) string {
	return fmt.Sprintf("barks:%d", userID)
}

// NewSchema builds the application schema. Resolvers read the request
// identity from the context the transport attached; anonymous contexts see
// nil identities, not errors, except where a mutation requires a sender.
func NewSchema(store users.Store, broker *pubsub.Broker) (graphql.Schema, error) {
	userType := graphql.NewObject(graphql.ObjectConfig{
		Name: "User",
		Fields: graphql.Fields{
			"id":       &graphql.Field{Type: graphql.NewNonNull(graphql.Int)},
			"email":    &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"userType": &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
		},
	})

	barkType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Bark",
		Fields: graphql.Fields{
			"fromUser": &graphql.Field{Type: graphql.NewNonNull(graphql.Int)},
			"toUser":   &graphql.Field{Type: graphql.NewNonNull(graphql.Int)},
			"message":  &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"sentAt":   &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
		},
	})

	queryType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"self": &graphql.Field{
				Type: userType,
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					identity := session.IdentityFrom(p.Context)
					if identity == nil {
						return nil, nil
					}
					return map[string]interface{}{
						"id":       identity.UserID,
						"email":    identity.Email,
						"userType": string(identity.Role),
					}, nil
				},
			},
			"user": &graphql.Field{
				Type: userType,
				Args: graphql.FieldConfigArgument{
					"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Int)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					id, _ := p.Args["id"].(int)
					u, err := store.Get(p.Context, int64(id))
					if errors.Is(err, users.ErrNotFound) {
						return nil, nil
					}
					if err != nil {
						return nil, err
					}
					return map[string]interface{}{
						"id":       u.ID,
						"email":    u.Email,
						"userType": string(u.Role),
					}, nil
				},
			},
		},
	})

	mutationType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Mutation",
		Fields: graphql.Fields{
			"sendBark": &graphql.Field{
				Type: graphql.NewNonNull(barkType),
				Args: graphql.FieldConfigArgument{
					"toUser":  &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Int)},
					"message": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					identity := session.IdentityFrom(p.Context)
					if identity == nil {
						return nil, errors.New("must be logged in to bark")
					}
					toUser, _ := p.Args["toUser"].(int)
					message, _ := p.Args["message"].(string)
					bark := map[string]interface{}{
						"fromUser": identity.UserID,
						"toUser":   toUser,
						"message":  message,
						"sentAt":   time.Now().UTC().Format(time.RFC3339),
					}
					broker.Publish(p.Context, barkTopic(int64(toUser)), bark)
					return bark, nil
				},
			},
		},
	})

	subscriptionType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Subscription",
		Fields: graphql.Fields{
			"barks": &graphql.Field{
				Type: graphql.NewNonNull(barkType),
				Args: graphql.FieldConfigArgument{
					"userId": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Int)},
				},
				Subscribe: func(p graphql.ResolveParams) (interface{}, error) {
					userID, _ := p.Args["userId"].(int)
					return broker.Subscribe(p.Context, barkTopic(int64(userID))), nil
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return p.Source, nil
				},
			},
		},
	})

	return graphql.NewSchema(graphql.SchemaConfig{
		Query:        queryType,
		Mutation:     mutationType,
		Subscription: subscriptionType,
	})
}
